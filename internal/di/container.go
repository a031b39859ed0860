package di

import (
	"fmt"

	"github.com/prohmpiriya/ticket-rush/internal/gateway"
	"github.com/prohmpiriya/ticket-rush/internal/handler"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/internal/worker"
	"github.com/prohmpiriya/ticket-rush/pkg/config"
	"github.com/prohmpiriya/ticket-rush/pkg/database"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
	"github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

// Container holds all dependencies for the ticket service
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	// Repositories
	TxManager   repository.TxManager
	TicketRepo  repository.TicketRepository
	BookingRepo repository.BookingRepository
	UserRepo    repository.UserRepository
	LedgerRepo  repository.NotificationLedger

	// Collaborators
	Gateway  gateway.PaymentGateway
	Mirror   service.ReservationMirror
	Notifier service.NotificationDispatcher

	// Services
	ReservationService service.TicketReservationService
	LifecycleService   service.BookingLifecycleService
	Coordinator        *service.BookingCoordinator
	WebhookProcessor   *service.PaymentWebhookProcessor
	Sweeper            *worker.ExpirationSweeper

	// Handlers
	HealthHandler        *handler.HealthHandler
	BookingHandler       *handler.BookingHandler
	PayUWebhookHandler   *handler.PayUWebhookHandler
	StripeWebhookHandler *handler.StripeWebhookHandler
	AdminHandler         *handler.AdminHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	DB     *database.PostgresDB
	Redis  *redis.Client
	// Producer is nil when Kafka is unavailable
	Producer *kafka.Producer
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	// Repositories
	pool := c.DB.Pool()
	c.TxManager = repository.NewPostgresTxManager(pool)
	c.TicketRepo = repository.NewPostgresTicketRepository(pool)
	c.BookingRepo = repository.NewPostgresBookingRepository(pool)
	c.UserRepo = repository.NewPostgresUserRepository(pool)
	c.LedgerRepo = repository.NewPostgresNotificationLedger(pool)

	// Collaborators
	gw, currency, err := newPaymentGateway(appCfg)
	if err != nil {
		return nil, err
	}
	c.Gateway = gw

	if appCfg.Mirror.BaseURL != "" {
		c.Mirror = service.NewHTTPReservationMirror(appCfg.Mirror.BaseURL, appCfg.Mirror.Timeout)
	} else {
		c.Mirror = service.NewNoOpReservationMirror()
	}

	var dlqPublisher retry.DLQPublisher = retry.NewNoOpDLQPublisher()
	if c.Producer != nil {
		c.Notifier = service.NewKafkaNotificationDispatcher(c.Producer, &service.KafkaDispatcherConfig{
			Topic:       appCfg.Notification.Topic,
			ServiceName: appCfg.App.Name,
			Timeout:     appCfg.Notification.Timeout,
		})
		dlqPublisher = retry.NewKafkaDLQPublisher(c.Producer, &retry.DLQConfig{
			Topic:  appCfg.Notification.DLQTopic,
			Source: appCfg.App.Name,
		})
	} else {
		c.Notifier = service.NewNoOpNotificationDispatcher()
	}

	// Services
	c.ReservationService = service.NewTicketReservationService(c.TicketRepo, &service.ReservationServiceConfig{
		MaxRetries: appCfg.Reservation.MaxRetries,
		BaseDelay:  appCfg.Reservation.BaseDelay,
	})
	c.LifecycleService = service.NewBookingLifecycleService(c.BookingRepo)
	c.Coordinator = service.NewBookingCoordinator(
		c.TxManager,
		c.ReservationService,
		c.LifecycleService,
		c.UserRepo,
		c.Gateway,
		c.Mirror,
		c.Notifier,
		&service.CoordinatorConfig{
			Currency:       currency,
			NotifyBaseURL:  appCfg.PayU.NotifyBaseURL,
			FrontendURL:    appCfg.Payment.FrontendURL,
			GatewayTimeout: appCfg.Payment.GatewayTimeout,
		},
	)

	dlq := retry.NewDLQHandler(dlqPublisher, &retry.DLQHandlerConfig{
		RetryConfig: service.NotificationRetryConfig(appCfg.Reservation.MaxRetries, appCfg.Reservation.BaseDelay),
		Source:      appCfg.App.Name,
		ErrorCode:   service.NotificationErrorCode,
	})
	c.WebhookProcessor = service.NewPaymentWebhookProcessor(c.Coordinator, c.LedgerRepo, dlq, &service.WebhookProcessorConfig{
		PayUSecondKey: appCfg.PayU.SecondKey,
	})

	var sweeper handler.Sweeper
	if appCfg.Sweeper.Enabled {
		var leaser worker.Leaser
		if c.Redis != nil {
			leaser = worker.NewRedisLeaser(c.Redis)
		}
		c.Sweeper = worker.NewExpirationSweeper(c.BookingRepo, c.Coordinator, leaser, &worker.ExpirationSweeperConfig{
			Interval:       appCfg.Sweeper.Interval,
			PaymentTimeout: appCfg.Sweeper.PaymentTimeout,
			BatchSize:      appCfg.Sweeper.BatchSize,
			StatsInterval:  appCfg.Sweeper.StatsInterval,
			LockTTL:        appCfg.Sweeper.LockTTL,
		})
		sweeper = c.Sweeper
	}

	// Handlers
	checks := map[string]handler.HealthChecker{"database": c.DB, "redis": nil}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.BookingHandler = handler.NewBookingHandler(c.Coordinator)
	c.PayUWebhookHandler = handler.NewPayUWebhookHandler(c.WebhookProcessor)
	c.StripeWebhookHandler = handler.NewStripeWebhookHandler(c.WebhookProcessor, appCfg.Stripe.WebhookSecret)
	c.AdminHandler = handler.NewAdminHandler(sweeper)

	return c, nil
}

// newPaymentGateway builds the configured gateway and returns the currency
// orders are placed in
func newPaymentGateway(cfg *config.Config) (gateway.PaymentGateway, string, error) {
	switch cfg.Payment.Provider {
	case config.ProviderPayU:
		client, err := gateway.NewPayUClient(&gateway.PayUConfig{
			BaseURL:      cfg.PayU.BaseURL,
			PosID:        cfg.PayU.PosID,
			ClientID:     cfg.PayU.ClientID,
			ClientSecret: cfg.PayU.ClientSecret,
			Timeout:      cfg.Payment.GatewayTimeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create payu client: %w", err)
		}
		return client, cfg.PayU.Currency, nil
	case config.ProviderStripe:
		gw, err := gateway.NewStripeGateway(&gateway.StripeGatewayConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create stripe gateway: %w", err)
		}
		return gw, cfg.Stripe.Currency, nil
	default:
		return gateway.NewMockGateway(&gateway.MockGatewayConfig{
			RedirectBase: cfg.Payment.FrontendURL + "/payment/mock",
		}), cfg.PayU.Currency, nil
	}
}

// Close releases resources owned by the container
func (c *Container) Close() {
	if c.Sweeper != nil {
		c.Sweeper.Stop()
	}
	if c.Notifier != nil {
		_ = c.Notifier.Close()
	}
}
