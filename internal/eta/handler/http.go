package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/eta"
)

// HTTP exposes the /v1/eta endpoint for ad-hoc travel estimates.
type HTTP struct {
	estimator *eta.Estimator
}

// New creates the handler.
func New(estimator *eta.Estimator) *HTTP {
	return &HTTP{estimator: estimator}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/eta", h.estimate)
	return r
}

func (h *HTTP) estimate(w http.ResponseWriter, r *http.Request) {
	origin := domain.GeoPoint{Lat: parseQueryFloat(r, "origin_lat"), Lng: parseQueryFloat(r, "origin_lng")}
	dest := domain.GeoPoint{Lat: parseQueryFloat(r, "dest_lat"), Lng: parseQueryFloat(r, "dest_lng")}
	result := h.estimator.Estimate(r.Context(), origin, dest, time.Now())

	writeJSON(w, http.StatusOK, map[string]any{
		"distance_meters": result.DistanceMeters,
		"duration_sec":    result.DurationSeconds,
		"eta_minutes":     result.Minutes(),
	})
}

func parseQueryFloat(r *http.Request, key string) float64 {
	v, _ := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
