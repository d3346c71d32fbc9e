package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"visit-intake-service/internal/config"
	"visit-intake-service/internal/events"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
	"visit-intake-service/internal/schema"
	"visit-intake-service/internal/service/billing"
	"visit-intake-service/internal/service/capture/push"
	"visit-intake-service/internal/service/upload"
	"visit-intake-service/internal/service/workflow"
	"visit-intake-service/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Metrics     *metrics.Metrics
	Publisher   *events.Publisher
	Sessions    *store.SessionStore
	Registry    *workflow.Registry
	Validator   *schema.Validator

	uploader    *upload.Submitter
	billing     *billing.Client
	suggestions workflow.SuggestionSource
	cancelSweep context.CancelFunc
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg:       cfg,
		Metrics:   metrics.DefaultMetrics,
		Validator: schema.New(),
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	a.uploader = upload.NewSubmitter(upload.Config{
		BaseURL: cfg.Backend.BaseURL,
		Path:    cfg.Backend.TranscribePath,
		Timeout: cfg.Backend.UploadTimeout,
	}, upload.WithMetrics(a.Metrics))

	a.billing = billing.NewClient(billing.Config{
		BaseURL:     cfg.Backend.BaseURL,
		SubmitPath:  cfg.Backend.BillingSubmit,
		ProposePath: cfg.Backend.BillingPropose,
		Timeout:     cfg.Backend.BillingTimeout,
	}, billing.WithClientMetrics(a.Metrics))

	src, err := workflow.NewSuggestionSource(cfg.Intake.SuggestionSource, a.billing)
	if err != nil {
		return nil, err
	}
	a.suggestions = src

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTransitions: cfg.Kafka.TopicTransitions,
		TopicAudit:       cfg.Kafka.TopicAudit,
		Principal:        cfg.Kafka.Principal,
	})

	if cfg.Redis.Enabled {
		sessions, err := store.New(store.Config{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, store.WithMetrics(a.Metrics))
		if err != nil {
			return nil, err
		}
		a.Sessions = sessions
	}

	a.Registry = workflow.NewRegistry(a.newCoordinator, cfg.Intake.EncounterTTL,
		workflow.WithRegistryMetrics(a.Metrics))

	appLogger.Info().
		Str("backend", cfg.Backend.BaseURL).
		Str("suggestionSource", src.Name()).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("redis", cfg.Redis.Enabled).
		Msg("Visit intake service application created")
	return a, nil
}

// newCoordinator builds one encounter. Every encounter gets its own push
// device, fed by the capture WebSocket.
func (a *Application) newCoordinator(sess models.Session) (*workflow.Coordinator, error) {
	if sess.Language == "" {
		lang, err := models.ParseLanguage(a.Cfg.Intake.DefaultLanguage)
		if err != nil {
			return nil, err
		}
		sess.Language = lang
	}
	deps := workflow.Deps{
		Device:      push.NewDevice(),
		Uploader:    a.uploader,
		Billing:     a.billing,
		Suggestions: a.suggestions,
		Events:      a.Publisher,
		Validator:   a.Validator,
		Metrics:     a.Metrics,
	}
	if a.Sessions != nil {
		deps.Sessions = a.Sessions
	}
	return workflow.NewCoordinator(sess, deps), nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if a.Cfg.Service.Environment == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     format,
		TimeFormat: time.RFC3339,
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Environment).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	if a.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Sessions.Ping(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelSweep = cancel
	go a.Registry.Run(ctx, a.Cfg.Intake.SweepInterval)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Dur("encounterTTL", a.Cfg.Intake.EncounterTTL).
		Msg("Visit intake service starting")

	return nil
}

// Shutdown tears down every open encounter, then flushes the publisher.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Int("encounters", a.Registry.Len()).Msg("Visit intake service shutting down")
	if a.cancelSweep != nil {
		a.cancelSweep()
	}
	a.Registry.CloseAll()
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Failed to close event publisher")
	}
	if err := a.Sessions.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Failed to close session store")
	}
}
