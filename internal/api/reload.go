package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
)

// ReloadHandler refreshes the campaign pool from the repository and tells
// other instances to do the same.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "reload"
	const method = "POST"

	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Pool != nil {
		if err := s.Pool.ReloadAndNotify(r.Context()); err != nil {
			logger.Error("reload failed", zap.Error(err))
			s.observe(endpoint, method, "500", start)
			http.Error(w, "reload failed", http.StatusInternalServerError)
			return
		}
	}

	s.observe(endpoint, method, "204", start)
	w.WriteHeader(http.StatusNoContent)
}
