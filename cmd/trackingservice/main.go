package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/kneadly/internal/eta"
	"github.com/example/kneadly/internal/eta/handler"
	"github.com/example/kneadly/internal/location"
	"github.com/example/kneadly/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("tracking-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "tracking-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping", zap.Error(err))
	}
	defer redisClient.Close()

	cache := location.NewCache(redisClient).WithTTLs(
		time.Duration(parseIntEnv("PROVIDER_LOCATION_TTL_SEC", 300))*time.Second,
		time.Duration(parseIntEnv("BOOKING_LOCATION_TTL_SEC", 7200))*time.Second,
	)

	estimator := eta.New(os.Getenv("MAPS_API_KEY"),
		time.Duration(parseIntEnv("ETA_TIMEOUT_MS", 3000))*time.Millisecond,
		logger.Named("eta"))

	redisCheck := observability.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}}

	go runREST(logger, estimator, redisCheck)
	go runGRPC(logger, cache)

	<-ctx.Done()
	logger.Info("shutdown signal received")
}

func runREST(logger *zap.Logger, estimator *eta.Estimator, checks ...observability.ReadyCheck) {
	r := chi.NewRouter()
	r.Mount("/", handler.New(estimator).Router())
	r.Mount("/observability", observability.MetricsRouter(checks...))

	srv := &http.Server{Addr: getenv("HTTP_ADDR", ":8081"), Handler: r, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("eta REST listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("eta rest server", zap.Error(err))
	}
}

func runGRPC(logger *zap.Logger, cache *location.Cache) {
	lis, err := net.Listen("tcp", getenv("GRPC_ADDR", ":9090"))
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	srv := grpc.NewServer()
	location.RegisterTrackingServer(srv, location.NewServer(cache, logger.Named("tracking")))
	logger.Info("tracking grpc listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
