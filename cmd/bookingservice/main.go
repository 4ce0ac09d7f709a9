package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/kneadly/internal/booking/catalog"
	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/booking/handler"
	"github.com/example/kneadly/internal/booking/repository"
	"github.com/example/kneadly/internal/booking/schedule"
	bookingservice "github.com/example/kneadly/internal/booking/service"
	"github.com/example/kneadly/internal/eta"
	"github.com/example/kneadly/internal/fanout"
	"github.com/example/kneadly/internal/location"
	"github.com/example/kneadly/internal/push"
	"github.com/example/kneadly/pkg/observability"
)

type appConfig struct {
	HTTPAddr     string
	PostgresDSN  string
	RedisAddr    string
	NATSURL      string
	JWTSecret    string
	CatalogPath  string
	MapsAPIKey   string
	ETATimeout   time.Duration
	ProviderTTL  time.Duration
	BookingTTL   time.Duration
	EventPrefix  string
	PushPoll     time.Duration
	PushBatch    int
	PushRetryMax int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("booking-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "booking-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	var checks []observability.ReadyCheck

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		checks = append(checks, observability.ReadyCheck{Name: "postgres", Check: db.PingContext})
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		checks = append(checks, observability.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("bookingservice")); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var repo interface {
		domain.Repository
		domain.NotificationStore
	}
	if db != nil {
		store := repository.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		repo = store
	} else {
		logger.Warn("no POSTGRES_DSN, using in-memory store")
		repo = repository.NewMemoryStore()
	}

	var locations domain.LocationStore
	if redisClient != nil {
		locations = location.NewCache(redisClient).WithTTLs(cfg.ProviderTTL, cfg.BookingTTL)
	} else {
		logger.Warn("no REDIS_ADDR, live location disabled")
	}

	cat := loadCatalog(cfg.CatalogPath, logger)
	estimator := eta.New(cfg.MapsAPIKey, cfg.ETATimeout, logger.Named("eta"))
	broadcaster := fanout.NewNATSBroadcaster(natsConn, cfg.EventPrefix)
	events := fanout.New(broadcaster, repo, logger.Named("fanout"))

	checker := schedule.NewChecker(repo, cat, domain.SystemClock{})
	svc := bookingservice.New(repo, checker, cat, locations, estimator, events, domain.SystemClock{}, logger.Named("booking"))
	bookingHTTP := handler.NewHTTP(svc, checker, repo, cfg.JWTSecret)

	r := chi.NewRouter()
	r.Mount("/", bookingHTTP.Router())
	r.Mount("/observability", observability.MetricsRouter(checks...))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := push.NewWorker(repo, push.LogSender{Logger: logger.Named("push")}, logger.Named("push"), push.WorkerConfig{
		PollInterval: cfg.PushPoll,
		BatchSize:    cfg.PushBatch,
		RetryMax:     cfg.PushRetryMax,
	})
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("push worker stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("booking service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func loadCatalog(path string, logger *zap.Logger) domain.Catalog {
	if path == "" {
		logger.Warn("no CATALOG_PATH, catalog is empty and every create will be refused")
		return catalog.NewStatic()
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}
	return cat
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		PostgresDSN:  firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		NATSURL:      os.Getenv("NATS_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CatalogPath:  os.Getenv("CATALOG_PATH"),
		MapsAPIKey:   os.Getenv("MAPS_API_KEY"),
		ETATimeout:   time.Duration(parseIntEnv("ETA_TIMEOUT_MS", 3000)) * time.Millisecond,
		ProviderTTL:  time.Duration(parseIntEnv("PROVIDER_LOCATION_TTL_SEC", 300)) * time.Second,
		BookingTTL:   time.Duration(parseIntEnv("BOOKING_LOCATION_TTL_SEC", 7200)) * time.Second,
		EventPrefix:  getenv("EVENT_SUBJECT_PREFIX", "kneadly.events"),
		PushPoll:     time.Duration(parseIntEnv("PUSH_POLL_MS", 500)) * time.Millisecond,
		PushBatch:    parseIntEnv("PUSH_BATCH", 100),
		PushRetryMax: parseIntEnv("PUSH_RETRY_MAX", 3),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
