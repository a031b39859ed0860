package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const sweeperLockKey = "ticket-rush:sweeper:leader"

// BookingCanceller is the system cancellation path of the booking coordinator
type BookingCanceller interface {
	CancelBookingAsSystem(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
}

// Leaser grants a single replica the right to run a sweep.
// acquired is false when another holder owns the lease.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// RedisLeaser implements Leaser with a Redis lock
type RedisLeaser struct {
	client *redis.Client
}

// NewRedisLeaser creates a leaser backed by client
func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{client: client}
}

// Acquire tries to take the lock once
func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.client.TryLock(ctx, key, ttl)
	if err != nil || lock == nil {
		return nil, false, err
	}
	return lock.Release, true, nil
}

// ExpirationSweeperConfig contains configuration for the expiration sweeper
type ExpirationSweeperConfig struct {
	// Interval is the time between sweeps
	Interval time.Duration
	// PaymentTimeout is how long a booking may wait for payment
	PaymentTimeout time.Duration
	// BatchSize caps the bookings cancelled per sweep
	BatchSize int
	// StatsInterval is the period of the waiting-bookings report, 0 disables it
	StatsInterval time.Duration
	// LockTTL bounds how long one replica holds the sweep lease
	LockTTL time.Duration
}

// DefaultExpirationSweeperConfig returns default configuration
func DefaultExpirationSweeperConfig() *ExpirationSweeperConfig {
	return &ExpirationSweeperConfig{
		Interval:       5 * time.Minute,
		PaymentTimeout: 15 * time.Minute,
		BatchSize:      500,
		StatsInterval:  time.Hour,
		LockTTL:        4 * time.Minute,
	}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped is set when another replica held the lease
	Skipped bool `json:"skipped,omitempty"`
}

// ExpirationSweeperStats contains sweeper statistics
type ExpirationSweeperStats struct {
	IsRunning      bool        `json:"is_running"`
	TotalCancelled int64       `json:"total_cancelled"`
	TotalFailed    int64       `json:"total_failed"`
	LastSweepTime  time.Time   `json:"last_sweep_time"`
	LastResult     SweepResult `json:"last_result"`
}

// ExpirationSweeper cancels bookings left in WAITING_FOR_PAYMENT past the
// payment timeout
type ExpirationSweeper struct {
	bookings  repository.BookingRepository
	canceller BookingCanceller
	leaser    Leaser
	config    *ExpirationSweeperConfig
	log       *logger.Logger
	now       func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalCancelled int64
	totalFailed    int64
	lastSweepTime  time.Time
	lastResult     SweepResult
}

// NewExpirationSweeper creates a new sweeper. leaser may be nil on single
// replica deployments.
func NewExpirationSweeper(
	bookings repository.BookingRepository,
	canceller BookingCanceller,
	leaser Leaser,
	config *ExpirationSweeperConfig,
) *ExpirationSweeper {
	defaults := DefaultExpirationSweeperConfig()
	if config == nil {
		config = defaults
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.PaymentTimeout <= 0 {
		config.PaymentTimeout = defaults.PaymentTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = config.Interval - config.Interval/5
	}

	return &ExpirationSweeper{
		bookings:  bookings,
		canceller: canceller,
		leaser:    leaser,
		config:    config,
		log:       logger.Get(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the sweeper loops
func (s *ExpirationSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("expiration sweeper already running")
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("Starting expiration sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("payment_timeout", s.config.PaymentTimeout),
	)

	s.wg.Add(1)
	go s.loop(ctx, s.config.Interval, func(ctx context.Context) { s.Sweep(ctx) })

	if s.config.StatsInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.config.StatsInterval, s.ReportStats)
	}
	return nil
}

// Stop stops the sweeper and waits for an in-flight sweep
func (s *ExpirationSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("Stopping expiration sweeper")
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("Expiration sweeper stopped")
}

func (s *ExpirationSweeper) loop(ctx context.Context, every time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// Sweep cancels one batch of overdue bookings. A failing booking is counted
// and does not stop the rest of the batch.
func (s *ExpirationSweeper) Sweep(ctx context.Context) SweepResult {
	ctx, span := telemetry.StartSpan(ctx, "worker.expiration_sweep")
	defer span.End()

	var result SweepResult
	start := time.Now()

	if s.leaser != nil {
		release, acquired, err := s.leaser.Acquire(ctx, sweeperLockKey, s.config.LockTTL)
		if err != nil {
			s.log.Warn("sweeper lease unavailable, skipping sweep", zap.Error(err))
			result.Skipped = true
			return result
		}
		if !acquired {
			s.log.Debug("another replica holds the sweeper lease")
			result.Skipped = true
			return result
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redis.ErrLockNotHeld) {
				s.log.Warn("failed to release sweeper lease", zap.Error(err))
			}
		}()
	}

	cutoff := s.now().Add(-s.config.PaymentTimeout)
	overdue, err := s.bookings.FindWaitingCreatedBefore(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.log.Error("failed to load overdue bookings", zap.Error(err))
		telemetry.SetSpanError(span, err)
		return result
	}

	for _, booking := range overdue {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		if _, err := s.canceller.CancelBookingAsSystem(ctx, booking.ID); err != nil {
			result.Failed++
			s.log.Warn("failed to cancel overdue booking",
				zap.String("booking_id", booking.ID.String()),
				zap.Time("created_at", booking.CreatedAt),
				zap.Error(err),
			)
			continue
		}
		result.Succeeded++
	}

	metrics.RecordSweep(ctx, result.Succeeded, result.Failed, time.Since(start))
	span.SetAttributes(
		attribute.Int("attempted", result.Attempted),
		attribute.Int("succeeded", result.Succeeded),
		attribute.Int("failed", result.Failed),
	)

	if result.Attempted > 0 {
		s.log.Info("expiration sweep finished",
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}

	s.mu.Lock()
	s.totalCancelled += int64(result.Succeeded)
	s.totalFailed += int64(result.Failed)
	s.lastSweepTime = s.now()
	s.lastResult = result
	s.mu.Unlock()

	telemetry.SetSpanOK(span)
	return result
}

// ReportStats logs how many bookings are waiting for payment and how many
// of them are already overdue
func (s *ExpirationSweeper) ReportStats(ctx context.Context) {
	waiting, overdue, err := s.bookings.CountWaiting(ctx, s.now().Add(-s.config.PaymentTimeout))
	if err != nil {
		s.log.Warn("failed to count waiting bookings", zap.Error(err))
		return
	}
	s.log.Info("payment expiration statistics",
		zap.Int64("waiting_for_payment", waiting),
		zap.Int64("overdue", overdue),
	)
}

// GetStats returns sweeper statistics
func (s *ExpirationSweeper) GetStats() *ExpirationSweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &ExpirationSweeperStats{
		IsRunning:      s.running,
		TotalCancelled: s.totalCancelled,
		TotalFailed:    s.totalFailed,
		LastSweepTime:  s.lastSweepTime,
		LastResult:     s.lastResult,
	}
}
