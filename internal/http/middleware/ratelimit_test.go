package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, read, write RateConfig) *RateLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRateLimiter(client, read, write)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWriteBucketExhausts(t *testing.T) {
	limiter := newLimiter(t, RateConfig{Rate: 100, Burst: 100}, RateConfig{Rate: 1, Burst: 2})
	handler := limiter.Middleware(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestReadAndWriteBucketsIndependent(t *testing.T) {
	limiter := newLimiter(t, RateConfig{Rate: 100, Burst: 100}, RateConfig{Rate: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	write := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	write.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, write)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, write)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads still pass.
	read := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
	read.RemoteAddr = "10.0.0.1:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, read)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBucketsKeyedPerClient(t *testing.T) {
	limiter := newLimiter(t, RateConfig{}, RateConfig{Rate: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, addr)
	}
}

func TestNilLimiterPassesThrough(t *testing.T) {
	var limiter *RateLimiter
	handler := limiter.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/bookings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
