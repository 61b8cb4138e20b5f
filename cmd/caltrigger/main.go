package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/caltrigger-io/caltrigger/internal/analytics"
	"github.com/caltrigger-io/caltrigger/internal/api"
	"github.com/caltrigger-io/caltrigger/internal/calendar"
	"github.com/caltrigger-io/caltrigger/internal/circuitbreaker"
	"github.com/caltrigger-io/caltrigger/internal/config"
	"github.com/caltrigger-io/caltrigger/internal/cron"
	"github.com/caltrigger-io/caltrigger/internal/dispatcher"
	"github.com/caltrigger-io/caltrigger/internal/engine"
	"github.com/caltrigger-io/caltrigger/internal/heartbeat"
	"github.com/caltrigger-io/caltrigger/internal/metrics"
	"github.com/caltrigger-io/caltrigger/internal/runlock"
	"github.com/caltrigger-io/caltrigger/internal/store/postgres"
	"github.com/caltrigger-io/caltrigger/internal/whatsapp"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "tick":
		os.Exit(runTick())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`caltrigger - booking reminder trigger engine

Usage:
  caltrigger <command>

Commands:
  serve      Start the dispatch engine and the API server
  tick       Run a single dispatch cycle and exit
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for dispatch analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  JWT_SECRET                API bearer token secret (empty disables auth)

  CRON_EXPRESSION           Dispatch schedule (default: "* * * * *")
  CRON_TIMEZONE             Schedule timezone (default: "UTC")
  STALENESS_WINDOW          Heartbeat staleness window (default: "65m")

  CAL_BASE_URL_LEGACY       Legacy calendar API base URL (optional)
  CAL_BASE_URL_CURRENT      Current calendar API base URL (optional)
  WHATSAPP_GATEWAY_URL      WhatsApp gateway base URL (optional)
  WHATSAPP_TOKEN            WhatsApp gateway api key
  WEBHOOK_SECRET            HMAC secret for outgoing webhooks (optional)

  BATCH_SIZE                Concurrent pairs per dispatch batch (default: "5")
  BATCH_PAUSE               Pause between batches (default: "1s")
  ACTION_TIMEOUT            Per-action timeout (default: "10s")
  STATUS_FILTER             Booking status filter (default: "ACCEPTED")
  RETRY_POLICY              none | next-tick | backoff (default: "next-tick")
  RETRY_BACKOFF_BASE        First backoff spacing (default: "5m")
  RETRY_BACKOFF_MAX         Backoff cap (default: "6h")
  RUN_LOCK_KEY              Advisory lock key shared by all instances
  DRY_RUN                   Log due reminders without dispatching (default: "false")

  CIRCUIT_BREAKER_THRESHOLD Failures before a target opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")`)
}

// buildApp wires the shared pieces used by serve and tick.
type app struct {
	db       *sql.DB
	store    *postgres.Store
	resolver *calendar.Resolver
	engine   *engine.Engine
	metrics  *metrics.PrometheusSink
}

func buildApp(cfg config.Config) (*app, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.New(db)

	calClient := calendar.NewClient()
	if cfg.CalBaseURLLegacy != "" || cfg.CalBaseURLCurrent != "" {
		calClient = calClient.WithBaseURLs(cfg.CalBaseURLLegacy, cfg.CalBaseURLCurrent)
	}
	resolver := calendar.NewResolver(calClient, store, time.Now)

	webhookSender := dispatcher.NewHTTPWebhookSender()
	if cfg.WebhookSecret != "" {
		webhookSender = webhookSender.WithSecret(cfg.WebhookSecret)
	}

	var whatsappSender dispatcher.WhatsAppSender
	if cfg.WhatsAppGatewayURL != "" {
		whatsappSender = whatsapp.NewHTTPSender(cfg.WhatsAppGatewayURL, cfg.WhatsAppToken)
		log.Printf("caltrigger: whatsapp gateway configured (%s)", cfg.WhatsAppGatewayURL)
	} else {
		log.Println("caltrigger: WHATSAPP_GATEWAY_URL not set; whatsapp_message triggers will fail")
	}

	disp := dispatcher.New(
		dispatcher.Config{
			BatchSize:     cfg.BatchSize,
			BatchPause:    cfg.BatchPause,
			ActionTimeout: cfg.ActionTimeout,
			StatusFilter:  cfg.StatusFilter,
			RetryPolicy:   dispatcher.RetryPolicy(cfg.RetryPolicy),
			BackoffBase:   cfg.RetryBackoffBase,
			BackoffMax:    cfg.RetryBackoffMax,
			DryRun:        cfg.DryRun,
		},
		store, store, resolver, webhookSender, whatsappSender,
	)

	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		disp = disp.WithMetrics(metricsSink)
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("caltrigger: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("caltrigger: REDIS_ADDR not set; analytics disabled")
	}

	eng := engine.New(disp, store).
		WithLock(runlock.New(db, cfg.RunLockKey)).
		WithDryRun(cfg.DryRun)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	return &app{
		db:       db,
		store:    store,
		resolver: resolver,
		engine:   eng,
		metrics:  metricsSink,
	}, nil
}

func runServe() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	parser := cron.NewParser()
	sched, err := parser.Parse(cfg.CronExpression, cfg.CronTimezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid CRON_EXPRESSION: %v\n", err)
		return exitInvalidConfig
	}

	a, err := buildApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer a.db.Close()

	monitor := heartbeat.NewMonitor(a.store, cfg.CronExpression, cfg.CronTimezone).
		WithStaleness(cfg.StalenessWindow)

	apiHandler := api.NewHandler(a.store).
		WithBookingSource(a.resolver).
		WithHeartbeat(monitor).
		WithHealthChecker(a.db)

	if cfg.JWTSecret == "" {
		log.Println("caltrigger: JWT_SECRET not set; API authentication disabled")
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		log.Printf("caltrigger: metrics enabled (path=%s)", cfg.MetricsPath)
	}
	mux.Handle("/", api.RequireAuth(cfg.JWTSecret, apiHandler))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Printf("caltrigger: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("caltrigger: http server error: %v", err)
		}
	}()

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	var engineWg sync.WaitGroup
	engineWg.Add(1)
	go func() {
		defer engineWg.Done()
		a.engine.Run(engineCtx, sched)
	}()

	log.Printf("caltrigger: started (cron=%q tz=%s http=%s dry_run=%t)",
		cfg.CronExpression, cfg.CronTimezone, cfg.HTTPAddr, cfg.DryRun)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf("caltrigger: received signal %v, shutting down", received)

	// Stop the engine first so no dispatch starts mid-shutdown, then drain
	// the HTTP server.
	cancelEngine()
	engineWg.Wait()
	log.Println("caltrigger: engine stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("caltrigger: http server shutdown error: %v", err)
	}
	log.Println("caltrigger: stopped")
	return exitSuccess
}

// runTick executes one dispatch cycle and exits. Intended for external
// schedulers (system cron, serverless cron) driving the engine.
func runTick() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	a, err := buildApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer a.db.Close()

	run, skipped, err := a.engine.RunOnce(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatch run failed: %v\n", err)
		return exitRuntimeError
	}
	if skipped {
		fmt.Println("run lock held by another instance, nothing done")
		return exitSuccess
	}

	fmt.Printf("run finished: triggers=%d due=%d sent=%d failed=%d skipped=%d duration=%dms\n",
		run.TriggersProcessed, run.RemindersDue, run.RemindersSent,
		run.RemindersFailed, run.RemindersSkipped, run.DurationMs)
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	if _, err := cron.NewParser().Parse(cfg.CronExpression, cfg.CronTimezone); err != nil {
		fmt.Fprintf(os.Stderr, "CRON_EXPRESSION: %v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()
	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("caltrigger version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
