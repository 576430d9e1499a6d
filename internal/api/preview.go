package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/middleware"
)

type previewResponse struct {
	ViewerKey string                `json:"viewer_key"`
	AdID      string                `json:"ad_id,omitempty"`
	Partition string                `json:"partition"`
	Trace     *logic.SelectionTrace `json:"trace"`
}

// PreviewHandler handles GET /preview. It runs the selection for a viewer
// and returns the decision with its trace without recording a view.
func (s *Server) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "PreviewHandler")
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "preview"
	const method = "GET"

	req := parseAdRequest(r)
	if err := s.validation().Struct(req); err != nil {
		logger.Warn("invalid preview request", zap.Error(err))
		s.observe(endpoint, method, "400", start)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	selTrace := &logic.SelectionTrace{}
	sel := s.Ads.Preview(ctx, req.Viewer, selTrace)
	resp := previewResponse{
		ViewerKey: req.Viewer,
		Partition: string(sel.Partition),
		Trace:     selTrace,
	}
	if sel.Found() {
		resp.AdID = sel.Campaign.ID
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("encode preview response", zap.Error(err))
	}
	s.observe(endpoint, method, "200", start)
}
