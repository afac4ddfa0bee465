// Package di assembles the runtime dependency graph: config in, a ready
// http.Handler plus lifecycle hooks out.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/events"
	"github.com/sortimate/api/internal/handlers"
	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/platform/config"
	pfirestore "github.com/sortimate/api/internal/platform/firestore"
	"github.com/sortimate/api/internal/platform/idempotency"
	"github.com/sortimate/api/internal/platform/jobs"
	"github.com/sortimate/api/internal/platform/observability"
	"github.com/sortimate/api/internal/repositories"
	firestoreRepo "github.com/sortimate/api/internal/repositories/firestore"
	"github.com/sortimate/api/internal/services"
)

// Services bundles the service-layer contracts handlers rely upon.
type Services struct {
	Bins        services.BinService
	Points      services.PointsService
	Corrections services.CorrectionService
	Leaderboard services.LeaderboardService
	Sessions    services.SessionService
	System      services.SystemService
}

// Container owns every long-lived runtime dependency. Build it once at
// startup and Close it during shutdown.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Services Services
	Router   http.Handler

	IdempotencyStore *idempotency.FirestoreStore

	provider     *pfirestore.Provider
	dispatcher   *events.Dispatcher
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
}

// dispatcherFeed adapts the events dispatcher to the session feed contract.
type dispatcherFeed struct {
	d *events.Dispatcher
}

func (f dispatcherFeed) Subscribe(binID, userID string) (services.FeedSubscription, error) {
	sub, err := f.d.Subscribe(binID, userID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (f dispatcherFeed) Publish(event domain.IdentificationEvent) {
	f.d.Publish(event)
}

var _ services.IdentificationFeed = dispatcherFeed{}

// NewContainer wires repositories, services, and the HTTP surface from the
// supplied configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := provider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("di: firestore client: %w", err)
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		provider: provider,
	}

	binRepo, err := firestoreRepo.NewBinRepository(provider)
	if err != nil {
		return nil, c.failf("bin repository", err)
	}
	statsRepo, err := firestoreRepo.NewUserStatsRepository(provider)
	if err != nil {
		return nil, c.failf("user stats repository", err)
	}
	groupRepo, err := firestoreRepo.NewGroupRepository(provider)
	if err != nil {
		return nil, c.failf("group repository", err)
	}
	alertRepo, err := firestoreRepo.NewAlertRepository(provider)
	if err != nil {
		return nil, c.failf("alert repository", err)
	}
	eventRepo, err := firestoreRepo.NewEventRepository(provider, cfg.Firestore.EventsCollection)
	if err != nil {
		return nil, c.failf("event repository", err)
	}

	var moderation services.ModerationPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.ModerationTopic); topicID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, c.failf("pubsub client", err)
		}
		c.pubsubClient = client
		c.pubsubTopic = client.Topic(topicID)
		publisher, err := jobs.NewPubSubModerationPublisher(c.pubsubTopic)
		if err != nil {
			return nil, c.failf("moderation publisher", err)
		}
		moderation = publisher
	} else {
		logger.Warn("moderation topic not configured; correction reports will not be queued for review")
	}

	dispatcher := events.NewDispatcher(eventRepo,
		events.WithLogger(logger.Named("events")))
	c.dispatcher = dispatcher

	binService, err := services.NewBinService(services.BinServiceDeps{
		Repository: binRepo,
		Clock:      time.Now,
	})
	if err != nil {
		return nil, c.failf("bin service", err)
	}
	pointsService, err := services.NewPointsService(services.PointsServiceDeps{
		Repository: statsRepo,
		Clock:      time.Now,
	})
	if err != nil {
		return nil, c.failf("points service", err)
	}
	correctionService, err := services.NewCorrectionService(services.CorrectionServiceDeps{
		Alerts:    alertRepo,
		Publisher: moderation,
		Logger:    logger.Named("corrections"),
		Clock:     time.Now,
	})
	if err != nil {
		return nil, c.failf("correction service", err)
	}
	leaderboardService, err := services.NewLeaderboardService(services.LeaderboardServiceDeps{
		Groups: groupRepo,
		Stats:  statsRepo,
		Clock:  time.Now,
	})
	if err != nil {
		return nil, c.failf("leaderboard service", err)
	}
	sessionService, err := services.NewSessionService(services.SessionServiceDeps{
		Bins:            binService,
		Points:          pointsService,
		Corrections:     correctionService,
		Feed:            dispatcherFeed{d: dispatcher},
		Logger:          logger.Named("sessions"),
		Clock:           time.Now,
		SessionTTL:      cfg.Session.TTL,
		JanitorInterval: cfg.Session.ReapInterval,
	})
	if err != nil {
		return nil, c.failf("session service", err)
	}

	systemService, err := buildSystemService(firestoreClient, c.pubsubTopic)
	if err != nil {
		// Readiness degrades to the liveness probe; everything else works.
		logger.Warn("system health service unavailable", zap.Error(err))
	}

	c.Services = Services{
		Bins:        binService,
		Points:      pointsService,
		Corrections: correctionService,
		Leaderboard: leaderboardService,
		Sessions:    sessionService,
		System:      systemService,
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, c.failf("firebase verifier", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	c.IdempotencyStore = idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		c.IdempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	sessionHandlers := handlers.NewSessionHandlers(authenticator, sessionService)
	binHandlers := handlers.NewBinHandlers(authenticator, binService)
	meHandlers := handlers.NewMeHandlers(authenticator, pointsService, leaderboardService)
	adminHandlers := handlers.NewAdminHandlers(authenticator, binService, sessionService)
	webhookHandlers := handlers.NewDeviceWebhookHandlers(eventRepo, binService,
		handlers.WithDeviceWebhookLogger(logger.Named("webhooks")))

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(systemService),
	)

	projectID := cfg.Firebase.ProjectID
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			idempotencyMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithBinRoutes(binHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg); hmacMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmacMiddleware))
	} else {
		logger.Warn("device hmac secrets not configured; webhook signatures will not be verified")
	}

	c.Router = handlers.NewRouter(opts...)
	return c, nil
}

// Close tears down sessions, feed listeners, and backing clients. Safe to call
// on a partially constructed container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Services.Sessions != nil {
		c.Services.Sessions.Close()
	}
	if c.dispatcher != nil {
		c.dispatcher.Close()
	}

	var errs []error
	if c.pubsubTopic != nil {
		c.pubsubTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("firestore close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) failf(component string, err error) error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Close(closeCtx)
	return fmt.Errorf("di: %s: %w", component, err)
}

func buildSystemService(client *firestore.Client, topic *pubsub.Topic) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := topic.Exists(ctx)
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}

	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
	})
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secrets := make(map[string]string, len(cfg.Security.HMAC.Secrets))
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secrets[strings.ToLower(key)] = value
	}
	if len(secrets) == 0 {
		return nil
	}

	validator := auth.NewHMACValidator(
		auth.StaticSecrets(secrets),
		auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(logger),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireDeviceHMAC()
}
