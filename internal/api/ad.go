package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/token"
)

// ViewerKeyHeader carries the viewer key when the query parameter is absent.
const ViewerKeyHeader = "X-Viewer-Key"

type adRequest struct {
	Viewer string `validate:"max=256,printascii"`
	Debug  string `validate:"omitempty,oneof=0 1"`
}

type adResponse struct {
	ID             string      `json:"id"`
	AdvertiserName string      `json:"advertiser_name"`
	ImageURL       string      `json:"image_url"`
	LinkURL        string      `json:"link_url"`
	ClickURL       string      `json:"click_url,omitempty"`
	Partition      string      `json:"partition,omitempty"`
	Debug          interface{} `json:"debug,omitempty"`
}

// parseAdRequest reads the viewer key from the query or the header.
func parseAdRequest(r *http.Request) adRequest {
	q := r.URL.Query()
	viewer := q.Get("viewer")
	if viewer == "" {
		viewer = r.Header.Get(ViewerKeyHeader)
	}
	return adRequest{Viewer: viewer, Debug: q.Get("debug")}
}

// GetAdHandler handles GET /ad. It answers 200 with the selected campaign or
// 204 when nothing is servable.
func (s *Server) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetAdHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/ad"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "ad"
	const method = "GET"

	req := parseAdRequest(r)
	if err := s.validation().Struct(req); err != nil {
		logger.Warn("invalid ad request", zap.Error(err))
		s.observe(endpoint, method, "400", start)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	debugEnabled := s.DebugTrace || req.Debug == "1"
	var selTrace *logic.SelectionTrace
	if debugEnabled {
		selTrace = &logic.SelectionTrace{}
	}

	sel := s.Ads.ServeAd(ctx, req.Viewer, selTrace)
	span.SetAttributes(attribute.String("selection.partition", string(sel.Partition)))
	if !sel.Found() {
		if observability.ShouldSample(observability.GetSamplingRate()) {
			logger.Info("no ad", zap.String("event_type", "no_ad"))
		}
		s.observe(endpoint, method, "204", start)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	c := sel.Campaign
	span.SetAttributes(attribute.String("ad.id", c.ID))
	resp := adResponse{
		ID:             c.ID,
		AdvertiserName: c.AdvertiserName,
		ImageURL:       c.ImageURL,
		LinkURL:        c.LinkURL,
		ClickURL:       s.clickURL(r, c, req.Viewer, logger),
	}
	if debugEnabled {
		resp.Partition = string(sel.Partition)
		resp.Debug = map[string]interface{}{"trace": selTrace}
	}

	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("ad served",
			zap.String("ad_id", c.ID),
			zap.String("partition", string(sel.Partition)),
			zap.String("event_type", "impression"))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("encode ad response", zap.Error(err))
	}
	s.observe(endpoint, method, "200", start)
}

// clickURL signs a click token for c shown to viewerKey. Without a token
// secret no click URL is issued.
func (s *Server) clickURL(r *http.Request, c *models.Campaign, viewerKey string, logger *zap.Logger) string {
	tok, err := token.Generate(c.ID, middleware.RequestID(r.Context()), viewerKey, s.TokenSecret, s.TokenTTL, s.clock())
	if errors.Is(err, token.ErrNoKey) {
		return ""
	}
	if err != nil {
		logger.Error("generate click token", zap.String("ad_id", c.ID), zap.Error(err))
		return ""
	}
	return "/click?t=" + url.QueryEscape(tok)
}
