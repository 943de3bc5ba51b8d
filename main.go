package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"geotech-monitor/internal/audit"
	"geotech-monitor/internal/auth"
	"geotech-monitor/internal/monitoring/application"
	monitorpostgres "geotech-monitor/internal/monitoring/infrastructure/postgres"
	monitorhttp "geotech-monitor/internal/monitoring/interfaces/http"
	"geotech-monitor/internal/monitoring/notify"
	"geotech-monitor/internal/observability/metrics"
	"geotech-monitor/internal/sensorapi"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	plan, err := application.LoadConfig()
	if err != nil {
		logger.Fatalf("monitor config error: %v", err)
	}
	nodes := plan.NodeList()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	sensorClient, err := sensorapi.NewClient(cfg.SensorBaseURL, cfg.SensorUsername, cfg.SensorPassword)
	if err != nil {
		logger.Fatalf("sensor client error: %v", err)
	}

	channel, err := buildChannel(cfg, plan, logger)
	if err != nil {
		logger.Fatalf("notification channel error: %v", err)
	}
	tmpl, err := notify.NewTemplate(cfg.NotifySubjectTemplate, cfg.NotifyBodyTemplate)
	if err != nil {
		logger.Fatalf("notification template error: %v", err)
	}

	dispatcherOpts := []application.DispatcherOption{
		application.WithDispatchTimeout(cfg.NotifyTimeout),
	}
	var sentAlerts *monitorpostgres.SentAlertRepository
	if db != nil {
		sentAlerts = monitorpostgres.NewSentAlertRepository(db)
		dispatcherOpts = append(dispatcherOpts, application.WithSentAlertRecorder(sentAlerts))
	}
	dispatcher, err := application.NewDispatcher(channel, tmpl, logger, dispatcherOpts...)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}

	evaluator := application.NewEvaluator(plan.HysteresisMargin)
	dedup := application.NewDeduplicator(plan.Cooldown())

	pipelineOpts := []application.PipelineOption{
		application.WithTickDeadline(plan.TickDeadline()),
	}
	var readingRepo *monitorpostgres.ReadingRepository
	var thresholdRepo *monitorpostgres.ThresholdRepository
	if db != nil {
		readingRepo = monitorpostgres.NewReadingRepository(db)
		thresholdRepo = monitorpostgres.NewThresholdRepository(db)
		pipelineOpts = append(pipelineOpts,
			application.WithReadingStore(readingRepo),
			application.WithThresholdSource(thresholdRepo),
		)
	}
	pipeline, err := application.NewPipeline(
		nodes,
		sensorClient,
		plan.FallbackThresholds(),
		evaluator,
		dedup,
		dispatcher,
		logger,
		pipelineOpts...,
	)
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}

	scheduler, err := application.NewScheduler(pipeline, plan.TickInterval(), logger)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go scheduler.Start(ctx)

	var handlerOpts []monitorhttp.HandlerOption
	if auditRepo != nil {
		handlerOpts = append(handlerOpts, monitorhttp.WithAuditLogger(auditRepo))
	}
	var readings monitorhttp.ReadingQuerier
	if readingRepo != nil {
		readings = readingRepo
	}
	if thresholdRepo != nil {
		handlerOpts = append(handlerOpts, monitorhttp.WithThresholdStore(thresholdRepo))
	}
	monitorHandler, err := monitorhttp.NewHandler(nodes, scheduler, dispatcher, readings, handlerOpts...)
	if err != nil {
		logger.Fatalf("monitoring handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/monitoring/run", monitorHandler)
	mux.Handle("/api/v1/monitoring/test-notification", monitorHandler)
	mux.Handle("/api/v1/readings", monitorHandler)
	mux.Handle("/api/v1/readings/latest", monitorHandler)
	mux.Handle("/api/v1/thresholds", monitorHandler)
	mux.Handle("/api/v1/exports/", monitorHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s, monitoring %d nodes every %s", cfg.HTTPAddr, len(nodes), plan.TickInterval())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}

func buildChannel(cfg config, plan application.Config, logger *log.Logger) (notify.Channel, error) {
	var channels []notify.Channel
	if cfg.SMTPHost != "" {
		email, err := notify.NewEmailChannel(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUsername,
			cfg.SMTPPassword,
			cfg.SMTPFrom,
			plan.Recipients,
			notify.WithSendTimeout(cfg.NotifyTimeout),
		)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		channels = append(channels, webhook)
	}
	if len(channels) == 0 {
		logger.Printf("no notification channel configured, alerts will be logged only")
		return logChannel{logger: logger}, nil
	}
	return notify.NewMultiChannel(channels...), nil
}

// logChannel is the fallback delivery path when neither SMTP nor a webhook
// is configured.
type logChannel struct {
	logger *log.Logger
}

func (ch logChannel) Send(_ context.Context, subject, body string) error {
	ch.logger.Printf("notification: %s\n%s", subject, body)
	return nil
}

type config struct {
	DatabaseURL           string
	HTTPAddr              string
	SensorBaseURL         string
	SensorUsername        string
	SensorPassword        string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	SMTPFrom              string
	WebhookURL            string
	NotifySubjectTemplate string
	NotifyBodyTemplate    string
	NotifyTimeout         time.Duration
	JWTSecret             string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:           getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:              getenvDefault("HTTP_ADDR", ":8080"),
		SensorBaseURL:         getenvDefault("SENSOR_BASE_URL", ""),
		SensorUsername:        getenvDefault("SENSOR_USERNAME", ""),
		SensorPassword:        getenvDefault("SENSOR_PASSWORD", ""),
		SMTPHost:              getenvDefault("SMTP_HOST", ""),
		SMTPPort:              getenvIntDefault("SMTP_PORT", 465),
		SMTPUsername:          getenvDefault("SMTP_USERNAME", ""),
		SMTPPassword:          getenvDefault("SMTP_PASSWORD", ""),
		SMTPFrom:              getenvDefault("SMTP_FROM", getenvDefault("SMTP_USERNAME", "")),
		WebhookURL:            getenvDefault("ALERT_WEBHOOK_URL", ""),
		NotifySubjectTemplate: getenvDefault("NOTIFY_SUBJECT_TEMPLATE", ""),
		NotifyBodyTemplate:    getenvDefault("NOTIFY_BODY_TEMPLATE", ""),
		NotifyTimeout:         getenvDuration("NOTIFY_TIMEOUT", 20*time.Second),
		JWTSecret:             getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.SensorBaseURL == "" {
		log.Fatal("SENSOR_BASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
