package handlers

import (
	"context"
	"log"
	"net/http"
)

// MetricsSource renders metrics in Prometheus text format
type MetricsSource interface {
	GetPrometheusMetrics(ctx context.Context) (string, error)
}

// MetricsHandler serves GET /metrics
type MetricsHandler struct {
	source MetricsSource
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(source MetricsSource) *MetricsHandler {
	return &MetricsHandler{source: source}
}

// GetMetrics handles GET /metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := h.source.GetPrometheusMetrics(r.Context())
	if err != nil {
		log.Printf("Failed to collect metrics: %v", err)
		http.Error(w, "Failed to collect metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(body))
}
