package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordanlanch/leadguard/config"
	"github.com/jordanlanch/leadguard/pkg/api"
	"github.com/jordanlanch/leadguard/pkg/api/handlers"
	"github.com/jordanlanch/leadguard/pkg/clock"
	"github.com/jordanlanch/leadguard/pkg/database"
	"github.com/jordanlanch/leadguard/pkg/email"
	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/jobs"
	"github.com/jordanlanch/leadguard/pkg/leadlifecycle"
	"github.com/jordanlanch/leadguard/pkg/leadstore"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/maintenance"
	"github.com/jordanlanch/leadguard/pkg/metrics"
	custommiddleware "github.com/jordanlanch/leadguard/pkg/middleware"
	"github.com/jordanlanch/leadguard/pkg/secrets"
	"github.com/jordanlanch/leadguard/pkg/slack"
	"github.com/jordanlanch/leadguard/pkg/webhook"
)

func main() {
	runJob := flag.String("run", "", "run a single maintenance job once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "leadguard: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log, *runJob); err != nil {
		log.Error("leadguard stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger, runJob string) error {
	if err := resolveSecrets(cfg, log); err != nil {
		return err
	}
	log.Info("configuration loaded", "environment", cfg.Environment)

	// Initialize Sentry for error tracking
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			sentryEnabled = true
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	store := leadstore.NewStore(db.Driver)
	clk := clock.Real{}

	sink, redisPub, closeSinks, err := buildSinks(cfg, m, log)
	if err != nil {
		return err
	}
	async := events.NewAsync(sink, cfg.EventBuffer, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := async.Close(ctx); err != nil {
			log.Warn("event queue not fully drained", "error", err)
		}
		closeSinks()
	}()

	engine := maintenance.NewEngine(store, async, clk, log,
		maintenance.WithBatchSize(cfg.BatchSize),
		maintenance.WithConcurrency(cfg.Concurrency),
		maintenance.WithMetrics(m),
	)

	jobsCfg := jobs.Config{
		Schedules: map[string]string{
			maintenance.JobProgressWarning:   cfg.ScheduleProgressWarning,
			maintenance.JobProtectionExpiry:  cfg.ScheduleProtectionExpiry,
			maintenance.JobPseudonymization:  cfg.SchedulePseudonymization,
			maintenance.JobImportJobArchival: cfg.ScheduleImportArchival,
		},
		Location: cfg.Location(),
		Timeout:  cfg.JobTimeout,
	}
	if sentryEnabled {
		jobsCfg.Reporter = jobs.SentryReporter
	}
	scheduler := jobs.NewScheduler(engine, jobsCfg, log)

	if runJob != "" {
		n, err := scheduler.RunNow(context.Background(), runJob)
		if err != nil {
			return err
		}
		log.Info("job finished", "job", runJob, "count", n)
		return nil
	}

	if err := scheduler.SetupJobs(); err != nil {
		return err
	}

	names := make([]string, 0, len(engine.Jobs()))
	for _, j := range engine.Jobs() {
		names = append(names, j.Name)
	}

	checks := map[string]handlers.Pinger{"database": db}
	if redisPub != nil {
		checks["redis"] = redisPub
	}

	triggerLimiter := custommiddleware.NewRateLimiter(cfg.TriggerRateLimitPerMinute, cfg.TriggerRateLimitBurst).
		WithKey(custommiddleware.ByIPAndParam("name"))
	defer triggerLimiter.Close()

	srv := api.Server{
		Lifecycle:      handlers.NewLeadLifecycleHandler(leadlifecycle.NewService(store, clk, log), engine, log),
		Jobs:           handlers.NewJobsHandler(scheduler, names, log),
		Health:         handlers.NewHealthHandler(checks),
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
		OpsToken:       cfg.OpsToken,
		TriggerLimiter: triggerLimiter,
		Sentry:         sentryEnabled,
		Log:            log,
	}
	if redisPub != nil {
		srv.Events = handlers.NewEventsHandler(redisPub, log)
	}
	e := srv.NewEcho()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reportDBConnections(ctx, db, m)

	scheduler.Start()

	addr := fmt.Sprintf("%s:%s", cfg.OpsHost, cfg.OpsPort)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("ops server listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		log.Error("ops server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop in time", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops server shutdown failed", "error", err)
	}
	return nil
}

// resolveSecrets overlays credentials from the secrets backend onto cfg.
func resolveSecrets(cfg *config.Config, log logger.Logger) error {
	mgr, err := secrets.NewManager(secrets.AutoDetectConfig(), log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s := secrets.LoadServiceSecrets(ctx, mgr, secrets.ServiceSecrets{
		DatabaseURL:    cfg.DatabaseURL,
		OpsToken:       cfg.OpsToken,
		WebhookSecret:  cfg.WebhookSecret,
		SendGridAPIKey: cfg.SendGridAPIKey,
		SentryDSN:      cfg.SentryDSN,
		AMQPURL:        cfg.AMQPURL,
		RedisURL:       cfg.RedisURL,
	})
	cfg.DatabaseURL = s.DatabaseURL
	cfg.OpsToken = s.OpsToken
	cfg.WebhookSecret = s.WebhookSecret
	cfg.SendGridAPIKey = s.SendGridAPIKey
	cfg.SentryDSN = s.SentryDSN
	cfg.AMQPURL = s.AMQPURL
	cfg.RedisURL = s.RedisURL
	if cfg.IsProduction() && cfg.OpsToken == "" {
		return errors.New("OPS_TOKEN is required in production")
	}
	return cfg.Validate()
}

func openDatabase(cfg *config.Config, log logger.Logger) (*database.Client, error) {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns

	dbCfg := database.Config{
		Driver: cfg.DBDriver,
		URL:    cfg.DatabaseURL,
		Pool:   pool,
	}
	if cfg.DBDriver == "postgres" && cfg.DBSSLMode != "" {
		dbCfg.SSL = &database.SSLConfig{
			Mode:         cfg.DBSSLMode,
			CertPath:     cfg.DBSSLCertPath,
			KeyPath:      cfg.DBSSLKeyPath,
			RootCertPath: cfg.DBSSLRootCertPath,
		}
	}

	db, err := database.Open(dbCfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// buildSinks wires every configured event destination behind one fan-out.
// The returned Redis publisher is nil unless REDIS_URL is set.
func buildSinks(cfg *config.Config, m *metrics.Metrics, log logger.Logger) (events.Sink, *events.RedisPublisher, func(), error) {
	multi := events.NewMulti(events.NamedSink{Name: "log", Sink: events.NewLogSink(log)}).
		WithFailureRecorder(m)
	var closers []func() error

	var redisPub *events.RedisPublisher
	if cfg.RedisURL != "" {
		p, err := events.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		redisPub = p
		multi.Add("redis", p)
		closers = append(closers, p.Close)
	}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, nil, err
		}
		multi.Add("amqp", p)
		closers = append(closers, p.Close)
	}
	if cfg.WebhookURL != "" {
		multi.Add("webhook", webhook.NewSink(webhook.Config{
			URL:        cfg.WebhookURL,
			Secret:     cfg.WebhookSecret,
			MaxRetries: cfg.WebhookMaxRetries,
		}, log))
	}
	if cfg.SlackWebhookURL != "" {
		multi.Add("slack", slack.NewService(slack.NewWebhookClient(cfg.SlackWebhookURL)))
	}
	if len(cfg.AlertRecipients) > 0 {
		multi.Add("email", email.NewService(cfg.EmailFrom, cfg.EmailFromName, cfg.AppBaseURL,
			cfg.SendGridAPIKey, cfg.AlertRecipients, log))
	}
	log.Info("event sinks configured", "count", multi.Len())

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("failed to close event sink", "error", err)
			}
		}
	}
	return multi, redisPub, closeAll, nil
}

func reportDBConnections(ctx context.Context, db *database.Client, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		m.UpdateDBConnections(float64(db.Stats().OpenConnections))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
