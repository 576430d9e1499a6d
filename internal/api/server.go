package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/macros"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/service"
)

var tracer = otel.Tracer("adrotator")

// CampaignGetter resolves a campaign by ID for click redirects.
type CampaignGetter interface {
	GetCampaign(ctx context.Context, id string) (models.Campaign, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger       *zap.Logger
	Ads          *service.AdService
	Pool         *service.PoolCache
	Campaigns    CampaignGetter
	HealthChecks map[string]HealthCheck
	Metrics      observability.MetricsRegistry
	DebugTrace   bool
	TokenSecret  []byte
	TokenTTL     time.Duration
	Macros       *macros.Expander

	validate *validator.Validate
	now      func() time.Time
}

// NewServer constructs a Server. pool may be nil when the pool is read from
// the repository on every request; reload then becomes a no-op.
func NewServer(logger *zap.Logger, ads *service.AdService, pool *service.PoolCache, campaigns CampaignGetter,
	metrics observability.MetricsRegistry, debug bool, secret []byte, ttl time.Duration) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Logger:       logger,
		Ads:          ads,
		Pool:         pool,
		Campaigns:    campaigns,
		HealthChecks: map[string]HealthCheck{},
		Metrics:      metrics,
		DebugTrace:   debug,
		TokenSecret:  secret,
		TokenTTL:     ttl,
		Macros:       macros.NewExpander(logger, metrics),
		validate:     validator.New(),
		now:          time.Now,
	}
}

// AddHealthCheck registers a dependency probe reported by /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	if s.HealthChecks == nil {
		s.HealthChecks = make(map[string]HealthCheck)
	}
	s.HealthChecks[name] = check
}

// RegisterRoutes attaches every rotation endpoint to r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.HandleFunc("/ad", s.GetAdHandler).Methods("GET")
	r.HandleFunc("/preview", s.PreviewHandler).Methods("GET")
	r.HandleFunc("/click", s.ClickHandler).Methods("GET")
	r.HandleFunc("/reload", s.ReloadHandler).Methods("POST")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
}

func (s *Server) validation() *validator.Validate {
	if s.validate == nil {
		s.validate = validator.New()
	}
	return s.validate
}

func (s *Server) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Server) observe(endpoint, method, status string, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, status)
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
