package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/macros"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/token"
)

// pixelGIF is a transparent 1x1 GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type clickRequest struct {
	Token string `validate:"required,jwt"`
}

// ClickHandler handles GET /click. A valid token records a click and
// redirects to the campaign's link; an unusable link answers a pixel.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ClickHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/click"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "click"
	const method = "GET"

	req := clickRequest{Token: r.URL.Query().Get("t")}
	if err := s.validation().Struct(req); err != nil {
		logger.Warn("missing or malformed token")
		s.observe(endpoint, method, "401", start)
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	click, err := token.Verify(req.Token, s.TokenSecret)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid token")
		logger.Warn("token verify", zap.Error(err))
		s.observe(endpoint, method, "401", start)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	span.SetAttributes(
		attribute.String("ad.id", click.AdID),
		attribute.String("request_id", click.RequestID),
	)

	if err := s.Ads.RecordAdClick(ctx, click.AdID, click.RequestID, click.ViewerKey); err != nil {
		// The counter updater already logged the drop; the user still gets
		// their redirect.
		logger.Warn("click not counted", zap.String("ad_id", click.AdID), zap.Error(err))
	} else if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("click", zap.String("ad_id", click.AdID), zap.String("request_id", click.RequestID), zap.String("event_type", "click"))
	}

	dest, ok := s.destination(r, click, logger)
	if !ok {
		s.observe(endpoint, method, "200", start)
		s.sendPixelResponse(w)
		return
	}
	logger.Debug("Redirecting to destination URL", zap.String("url", dest))
	s.observe(endpoint, method, "302", start)
	http.Redirect(w, r, dest, http.StatusFound)
}

// destination returns the campaign's link, with macros expanded, when it is
// a safe redirect target.
func (s *Server) destination(r *http.Request, click token.Click, logger *zap.Logger) (string, bool) {
	if s.Campaigns == nil {
		return "", false
	}
	c, err := s.Campaigns.GetCampaign(r.Context(), click.AdID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			logger.Error("campaign lookup", zap.String("ad_id", click.AdID), zap.Error(err))
		}
		return "", false
	}

	link := c.LinkURL
	if s.Macros != nil {
		expanded, err := s.Macros.ExpandURL(link, &macros.ExpansionContext{
			AdID:           c.ID,
			AdvertiserName: c.AdvertiserName,
			RequestID:      click.RequestID,
			ClickID:        click.ID,
			Timestamp:      s.clock(),
		})
		if err != nil {
			logger.Warn("link macro expansion failed, using raw link", zap.String("url", link), zap.Error(err))
		} else {
			link = expanded
		}
	}

	parsed, err := url.Parse(link)
	if err != nil {
		logger.Error("Invalid destination URL", zap.String("url", link), zap.Error(err))
		return "", false
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		logger.Warn("Unsafe destination URL scheme", zap.String("url", link), zap.String("scheme", parsed.Scheme))
		return "", false
	}
	return parsed.String(), true
}

// sendPixelResponse sends a 1x1 tracking pixel response
func (s *Server) sendPixelResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}
