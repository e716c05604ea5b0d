package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"capstack/config"
	"capstack/core"
	"capstack/core/events"
	"capstack/core/scheduler"
	"capstack/core/state"
	"capstack/history"
	"capstack/observability"
	"capstack/observability/logging"
	telemetry "capstack/observability/otel"
	"capstack/rpc"
	"capstack/storage"
)

const envNameEnv = "CAPSTACK_ENV"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "capstackd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv(envNameEnv))
	if env == "" {
		env = strings.TrimSpace(cfg.Telemetry.Environment)
	}
	logger := logging.Setup("capstackd", env, logging.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if otlpEndpoint == "" {
		otlpEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "capstackd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		SampleRatio: cfg.Telemetry.SampleRatio,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()

	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		return fmt.Errorf("pool config: %w", err)
	}
	pool, err := core.NewPool(state.NewManager(db), poolCfg)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	pool.SetHub(events.NewHub())

	recorders := []core.HistoryRecorder{observability.NewPoolRecorder()}
	if cfg.History.Driver != "off" {
		historyDB, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		recorder, err := history.NewRecorder(historyDB, logger)
		if err != nil {
			return fmt.Errorf("init history recorder: %w", err)
		}
		recorders = append(recorders, recorder)
	}
	pool.SetHistory(core.MultiHistory(recorders...))

	auth, err := rpc.NewAuthenticator(rpc.AuthConfig{
		SecretEnv: cfg.RPC.SecretEnv,
		Issuer:    cfg.RPC.AuthIssuer,
		Audience:  cfg.RPC.AuthAudience,
		ClockSkew: time.Duration(cfg.RPC.AuthSkewSecs) * time.Second,
	})
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrSecretUnset) && cfg.RPC.AllowInsecure:
		logger.Warn("DEV ONLY: bearer auth disabled, mutating methods are open",
			slog.String("secret_env", cfg.RPC.SecretEnv))
		auth = nil
	default:
		return fmt.Errorf("init rpc auth: %w", err)
	}

	replays, err := rpc.NewReplayStore(filepath.Join(cfg.DataDir, "replays.db"),
		time.Duration(cfg.RPC.IdempotencyTTLSecs)*time.Second)
	if err != nil {
		return fmt.Errorf("open replay store: %w", err)
	}
	defer replays.Close()

	srv, err := rpc.NewServer(pool, rpc.ServerOptions{
		Auth:          auth,
		RateLimiter:   rpc.NewRateLimiter(float64(cfg.RPC.RateLimitPerMinute), rateBurst(cfg.RPC.RateLimitPerMinute)),
		Replays:       replays,
		AllowInsecure: cfg.RPC.AllowInsecure,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("init rpc server: %w", err)
	}

	sched, err := scheduler.New(pool, cfg.Epoch.CronSpec, logger)
	if err != nil {
		return fmt.Errorf("init epoch scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("capstackd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("policy", string(poolCfg.PolicyKind)),
			slog.String("epoch_cron", cfg.Epoch.CronSpec))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("capstackd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return fmt.Errorf("shutdown rpc server: %w", err)
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve rpc: %w", err)
		}
		return nil
	}
}

// rateBurst sizes the limiter burst to one second of the configured budget.
func rateBurst(perMinute int) int {
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	return burst
}
