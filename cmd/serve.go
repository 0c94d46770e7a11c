package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ridedesk/internal/api"
	"github.com/ridedesk/internal/api/auth"
	"github.com/ridedesk/internal/chat"
	"github.com/ridedesk/internal/config"
	"github.com/ridedesk/internal/escalation"
	"github.com/ridedesk/internal/flow"
	"github.com/ridedesk/internal/intent"
	"github.com/ridedesk/internal/jobqueue"
	"github.com/ridedesk/internal/logging"
	"github.com/ridedesk/internal/notify"
	"github.com/ridedesk/internal/safety"
	"github.com/ridedesk/internal/store"
	"github.com/ridedesk/internal/tripdata"
)

// ServeCommand returns the CLI command that runs the API server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the RideDesk support chat server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured server port",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	provider := buildProvider(cfg)
	conversations, escalations, err := buildStores(cfg)
	if err != nil {
		return err
	}

	manager := escalation.NewManager(conversations, escalations)
	defer manager.Close()

	sinks := buildSinks(cfg)
	direct := notify.EventHandler(sinks...)

	opts := chat.Options{
		Thresholds: flow.Thresholds{
			LateEtaMinutes:     cfg.Chat.LateEtaMinutes,
			CancelGracePeriod:  cfg.CancelGracePeriod(),
			MaxContactAttempts: cfg.Chat.MaxContactAttempts,
		},
		ConfidenceFloor: cfg.Chat.ConfidenceFloor,
		EscalationFloor: cfg.Chat.EscalationFloor,
		FetchTimeout:    cfg.FetchTimeout(),
	}

	if cfg.Database.URL != "" {
		queue, err := jobqueue.NewJobQueue(cfg.Database.URL, provider, escalations, sinks...)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := queue.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("job queue shutdown failed")
			}
		}()

		// Request-bearing events go through River for durable, retried
		// delivery. Anything else is handed to the sinks directly.
		manager.OnEvent(func(ctx context.Context, ev escalation.Event) {
			if ev.Request == nil {
				direct(ctx, ev)
				return
			}
			if err := queue.EnqueueEscalationDelivery(ctx, ev.Request.ID, ev.Type, ev.Request.Priority); err != nil {
				log.Error().Err(err).
					Str("escalation_id", ev.Request.ID).
					Msg("failed to queue escalation delivery, delivering directly")
				direct(ctx, ev)
			}
		})
		opts.Notifier = queue
	} else {
		log.Info().Msg("no database configured, delivering notifications inline")
		manager.OnEvent(direct)
	}

	service := chat.NewService(
		conversations,
		manager,
		intent.NewDefaultClassifier(),
		safety.NewDefaultDetector(),
		flow.NewDefaultEngine(),
		provider,
		opts,
	)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenTTL())
	server := api.NewServer(cfg.Server.Port, service, tokens, cfg.RateLimit.PerUserRPS, cfg.RateLimit.Burst)
	return server.Start()
}

func buildProvider(cfg *config.Config) tripdata.Provider {
	if cfg.TripData.BaseURL == "" {
		log.Info().Msg("no trip data service configured, using the built-in mock")
		return tripdata.NewMockProvider()
	}
	timeout := time.Duration(cfg.TripData.TimeoutSeconds) * time.Second
	inner := tripdata.NewHTTPProvider(cfg.TripData.BaseURL, timeout)
	return tripdata.NewCachedProvider(inner)
}

func buildStores(cfg *config.Config) (store.ConversationStore, store.EscalationStore, error) {
	if cfg.Database.URL == "" {
		log.Info().Msg("no database configured, using in-memory stores")
		return store.NewMemoryConversationStore(), store.NewMemoryEscalationStore(), nil
	}

	db, err := store.OpenPostgres(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.EnsureSchema(context.Background(), db); err != nil {
		return nil, nil, err
	}
	return store.NewPostgresConversationStore(db), store.NewPostgresEscalationStore(db), nil
}

func buildSinks(cfg *config.Config) []notify.Sink {
	sinks := []notify.Sink{notify.LogSink{}}

	if cfg.Broker.URL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.QueuePrefix)
		if err != nil {
			log.Error().Err(err).Msg("broker unavailable, continuing without it")
		} else {
			sinks = append(sinks, publisher)
		}
	}

	if cfg.Webhook.URL != "" {
		timeout := time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second
		sinks = append(sinks, notify.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.AuthToken, timeout))
	}
	return sinks
}
