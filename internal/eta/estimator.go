package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/kneadly/internal/booking/domain"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api"
	defaultTimeout = 3 * time.Second

	// fallbackSpeedKMH is the assumed urban average when the routing
	// service is unavailable.
	fallbackSpeedKMH = 25.0
	// minFallbackMinutes floors the deterministic estimate.
	minFallbackMinutes = 5
)

var fallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "eta_fallback_total",
	Help: "Estimates served by the haversine fallback instead of the routing service.",
})

// Estimator computes travel estimates. The primary path calls a traffic-aware
// routing service with a bounded timeout; any failure degrades to the
// deterministic haversine fallback. Estimate never returns an error.
type Estimator struct {
	client  *http.Client
	apiKey  string
	baseURL string
	logger  *zap.Logger
}

// New constructs an Estimator. An empty apiKey disables the external call and
// every estimate uses the fallback.
func New(apiKey string, timeout time.Duration, logger *zap.Logger) *Estimator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

// WithBaseURL points the estimator at a different routing endpoint (tests).
func (e *Estimator) WithBaseURL(u string) *Estimator {
	e.baseURL = u
	return e
}

// Estimate returns the travel estimate from origin to destination, preferring
// the traffic-adjusted duration when the routing service supplies one.
func (e *Estimator) Estimate(ctx context.Context, origin, destination domain.GeoPoint, departAt time.Time) domain.ETA {
	if e == nil || e.apiKey == "" {
		fallbackTotal.Inc()
		return Fallback(origin, destination)
	}
	result, err := e.query(ctx, origin, destination, departAt)
	if err != nil {
		fallbackTotal.Inc()
		e.logger.Warn("routing service unavailable, using fallback", zap.Error(err))
		return Fallback(origin, destination)
	}
	return result
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value int64 `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int64 `json:"value"`
			} `json:"duration"`
			DurationInTraffic *struct {
				Value int64 `json:"value"`
			} `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

func (e *Estimator) query(ctx context.Context, origin, destination domain.GeoPoint, departAt time.Time) (domain.ETA, error) {
	params := url.Values{}
	params.Set("origins", formatPoint(origin))
	params.Set("destinations", formatPoint(destination))
	params.Set("key", e.apiKey)
	params.Set("mode", "driving")
	params.Set("units", "metric")
	if !departAt.IsZero() {
		params.Set("departure_time", strconv.FormatInt(departAt.Unix(), 10))
		params.Set("traffic_model", "best_guess")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/distancematrix/json?"+params.Encode(), nil)
	if err != nil {
		return domain.ETA{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return domain.ETA{}, fmt.Errorf("distance matrix call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.ETA{}, fmt.Errorf("distance matrix status %d", resp.StatusCode)
	}

	var payload matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ETA{}, fmt.Errorf("decode response: %w", err)
	}
	if payload.Status != "OK" || len(payload.Rows) == 0 || len(payload.Rows[0].Elements) == 0 {
		return domain.ETA{}, fmt.Errorf("distance matrix response status %q", payload.Status)
	}
	element := payload.Rows[0].Elements[0]
	if element.Status != "" && element.Status != "OK" {
		return domain.ETA{}, fmt.Errorf("distance matrix element status %q", element.Status)
	}
	if element.Duration.Value <= 0 {
		return domain.ETA{}, fmt.Errorf("distance matrix returned no duration")
	}

	result := domain.ETA{
		DistanceMeters:  element.Distance.Value,
		DurationSeconds: element.Duration.Value,
	}
	if element.DurationInTraffic != nil {
		result.DurationInTrafficSeconds = element.DurationInTraffic.Value
	}
	return result, nil
}

// Fallback is the deterministic, side-effect-free estimate: great-circle
// distance at an assumed urban average speed, rounded up to whole minutes and
// never below five.
func Fallback(origin, destination domain.GeoPoint) domain.ETA {
	meters := Haversine(origin, destination)
	minutes := int(math.Ceil(meters / 1000 / fallbackSpeedKMH * 60))
	if minutes < minFallbackMinutes {
		minutes = minFallbackMinutes
	}
	return domain.ETA{
		DistanceMeters:  int64(meters),
		DurationSeconds: int64(minutes) * 60,
	}
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b domain.GeoPoint) float64 {
	const earthRadius = 6371000.0
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return earthRadius * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func formatPoint(p domain.GeoPoint) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
