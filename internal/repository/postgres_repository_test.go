package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/database"
)

func setupPostgres(t *testing.T) *database.PostgresDB {
	t.Helper()

	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set, skipping integration test")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, envOr("TEST_POSTGRES_PORT", "5432"),
		envOr("TEST_POSTGRES_USER", "postgres"),
		envOr("TEST_POSTGRES_PASSWORD", "postgres"),
		envOr("TEST_POSTGRES_DB", "ticket_rush_test"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{DSN: dsn, MaxConns: 4, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresRepositories_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	pool := db.Pool()

	eventID, ticketID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO events (id, name) VALUES ($1, 'Integration Concert')`, eventID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tickets (id, event_id, price, status, version) VALUES ($1, $2, 149.99, 'AVAILABLE', 0)`, ticketID, eventID)
	require.NoError(t, err)

	tickets := NewPostgresTicketRepository(pool)
	bookings := NewPostgresBookingRepository(pool)
	users := NewPostgresUserRepository(pool)
	ledger := NewPostgresNotificationLedger(pool)
	tx := NewPostgresTxManager(pool)

	user, err := users.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)

	ticket, err := tickets.GetByID(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, "Integration Concert", ticket.EventName)
	assert.Equal(t, int64(14999), ticket.Price.MinorUnits())

	stale := *ticket
	require.NoError(t, tickets.UpdateStatus(ctx, ticket, domain.TicketStatusReserved))
	assert.ErrorIs(t, tickets.UpdateStatus(ctx, &stale, domain.TicketStatusReserved), domain.ErrVersionConflict)

	booking := domain.NewBooking(userID, ticketID, time.Now())
	require.NoError(t, bookings.Create(ctx, booking))
	assert.ErrorIs(t, bookings.Create(ctx, domain.NewBooking(userID, ticketID, time.Now())), domain.ErrBookingConflict)

	boom := errors.New("boom")
	err = tx.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, bookings.UpdateStatus(ctx, booking, domain.BookingStatusWaitingForPayment))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	reloaded, err := bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCreated, reloaded.Status)

	entry := &domain.ProcessedPaymentNotification{
		ID:              uuid.New(),
		ExternalOrderID: "ORDER-" + uuid.NewString(),
		BookingID:       booking.ID,
		Status:          domain.PaymentStatusCompleted,
		Amount:          ticket.Price,
		ProcessedAt:     time.Now(),
	}
	require.NoError(t, ledger.Append(ctx, entry))
	assert.ErrorIs(t, ledger.Append(ctx, entry), domain.ErrNotificationAlreadyProcessed)
	exists, err := ledger.Exists(ctx, entry.ExternalOrderID)
	require.NoError(t, err)
	assert.True(t, exists)
}
