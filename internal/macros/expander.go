// Package macros expands placeholders such as {AD_ID} or {REQUEST_ID} in
// campaign link URLs before a click is redirected.
package macros

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/observability"
)

// ExpansionFunc returns the raw value for one macro. The expander escapes it.
type ExpansionFunc func(ctx *ExpansionContext) (string, error)

// ExpansionContext contains the data available to macros for one click.
type ExpansionContext struct {
	AdID           string
	AdvertiserName string
	RequestID      string
	ClickID        string
	Timestamp      time.Time

	// Custom carries {CUSTOM.key} values.
	Custom map[string]string
}

// Expander holds the registered macros. It is safe for concurrent use.
type Expander struct {
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu         sync.RWMutex
	expansions map[string]ExpansionFunc
	strictMode bool // any failed macro fails the whole URL
}

// NewExpander creates a lenient expander with the default macros.
func NewExpander(logger *zap.Logger, metrics observability.MetricsRegistry) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	e := &Expander{
		logger:     logger.Named("macros"),
		metrics:    metrics,
		expansions: make(map[string]ExpansionFunc),
	}
	e.registerDefaultMacros()
	return e
}

// SetStrictMode enables or disables strict expansion.
func (e *Expander) SetStrictMode(strict bool) {
	e.mu.Lock()
	e.strictMode = strict
	e.mu.Unlock()
}

// ExpandURL replaces every known macro in rawURL. In lenient mode a failing
// macro is left in place and the partially expanded URL is returned.
func (e *Expander) ExpandURL(rawURL string, ctx *ExpansionContext) (string, error) {
	if rawURL == "" {
		return "", nil
	}
	if _, err := url.Parse(rawURL); err != nil {
		return rawURL, fmt.Errorf("parse url: %w", err)
	}
	if !strings.Contains(rawURL, "{") {
		return rawURL, nil
	}

	expanded := e.expandCustom(rawURL, ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var replacements []string
	for name, fn := range e.expansions {
		placeholder := "{" + name + "}"
		if !strings.Contains(expanded, placeholder) {
			continue
		}
		value, err := fn(ctx)
		if err != nil {
			e.metrics.IncrementMacroExpansions(name, "error")
			if e.strictMode {
				return "", fmt.Errorf("expand macro %s: %w", name, err)
			}
			e.logger.Warn("macro expansion failed", zap.String("macro", name), zap.Error(err))
			continue
		}
		e.metrics.IncrementMacroExpansions(name, "ok")
		replacements = append(replacements, placeholder, url.QueryEscape(value))
	}
	if len(replacements) > 0 {
		expanded = strings.NewReplacer(replacements...).Replace(expanded)
	}
	return expanded, nil
}

// RegisterMacro adds or replaces a macro.
func (e *Expander) RegisterMacro(name string, fn ExpansionFunc) error {
	if name == "" {
		return fmt.Errorf("macro name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("expansion function cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expansions[name] = fn
	return nil
}

// RegisteredMacros returns the registered macro names in sorted order.
func (e *Expander) RegisteredMacros() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.expansions))
	for name := range e.expansions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unsupported lists placeholders in rawURL that no macro handles.
func (e *Expander) Unsupported(rawURL string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	rest := rawURL
	for {
		start := strings.Index(rest, "{")
		if start == -1 {
			return out
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			return out
		}
		name := rest[start+1 : start+end]
		if !strings.HasPrefix(name, "CUSTOM.") {
			if _, ok := e.expansions[name]; !ok {
				out = append(out, name)
			}
		}
		rest = rest[start+end+1:]
	}
}

func (e *Expander) expandCustom(rawURL string, ctx *ExpansionContext) string {
	if ctx == nil || len(ctx.Custom) == 0 {
		return rawURL
	}
	for key, value := range ctx.Custom {
		placeholder := "{CUSTOM." + key + "}"
		if strings.Contains(rawURL, placeholder) {
			rawURL = strings.ReplaceAll(rawURL, placeholder, url.QueryEscape(value))
		}
	}
	return rawURL
}

func (e *Expander) registerDefaultMacros() {
	e.expansions["AD_ID"] = func(ctx *ExpansionContext) (string, error) {
		if ctx == nil || ctx.AdID == "" {
			return "", fmt.Errorf("no ad id")
		}
		return ctx.AdID, nil
	}
	e.expansions["ADVERTISER"] = func(ctx *ExpansionContext) (string, error) {
		if ctx == nil {
			return "", fmt.Errorf("no context")
		}
		return ctx.AdvertiserName, nil
	}
	e.expansions["REQUEST_ID"] = func(ctx *ExpansionContext) (string, error) {
		if ctx == nil {
			return "", fmt.Errorf("no context")
		}
		return ctx.RequestID, nil
	}
	e.expansions["CLICK_ID"] = func(ctx *ExpansionContext) (string, error) {
		if ctx == nil {
			return "", fmt.Errorf("no context")
		}
		return ctx.ClickID, nil
	}

	e.expansions["TIMESTAMP"] = func(ctx *ExpansionContext) (string, error) {
		return strconv.FormatInt(timestamp(ctx).Unix(), 10), nil
	}
	e.expansions["TIMESTAMP_MS"] = func(ctx *ExpansionContext) (string, error) {
		return strconv.FormatInt(timestamp(ctx).UnixMilli(), 10), nil
	}
	e.expansions["ISO_TIMESTAMP"] = func(ctx *ExpansionContext) (string, error) {
		return timestamp(ctx).UTC().Format(time.RFC3339), nil
	}

	// cache busters
	e.expansions["RANDOM"] = func(ctx *ExpansionContext) (string, error) {
		return strconv.FormatInt(time.Now().UnixNano(), 10), nil
	}
	e.expansions["UUID"] = func(ctx *ExpansionContext) (string, error) {
		return uuid.New().String(), nil
	}
}

func timestamp(ctx *ExpansionContext) time.Time {
	if ctx == nil || ctx.Timestamp.IsZero() {
		return time.Now()
	}
	return ctx.Timestamp
}
