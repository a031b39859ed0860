package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

var (
	_ TicketRepository   = (*PostgresTicketRepository)(nil)
	_ BookingRepository  = (*PostgresBookingRepository)(nil)
	_ UserRepository     = (*PostgresUserRepository)(nil)
	_ NotificationLedger = (*PostgresNotificationLedger)(nil)
	_ TxManager          = (*PostgresTxManager)(nil)
	_ TxManager          = (*MemoryStore)(nil)
)

func seedTicket(s *MemoryStore) domain.Ticket {
	t := domain.Ticket{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		EventName: "Concert",
		Price:     domain.MustParseMoney("100.00"),
		Status:    domain.TicketStatusAvailable,
	}
	s.PutTicket(t)
	return t
}

func TestMemoryTickets_UpdateStatusIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seeded := seedTicket(store)

	first, err := store.Tickets().GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	stale, err := store.Tickets().GetByID(ctx, seeded.ID)
	require.NoError(t, err)

	require.NoError(t, store.Tickets().UpdateStatus(ctx, first, domain.TicketStatusReserved))
	assert.Equal(t, domain.TicketStatusReserved, first.Status)
	assert.Equal(t, int64(1), first.Version)

	err = store.Tickets().UpdateStatus(ctx, stale, domain.TicketStatusReserved)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, int64(0), stale.Version)

	_, err = store.Tickets().GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestMemoryBookings_OneActiveBookingPerTicket(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ticketID := uuid.New()
	now := time.Now()

	first := domain.NewBooking(uuid.New(), ticketID, now)
	require.NoError(t, store.Bookings().Create(ctx, first))

	second := domain.NewBooking(uuid.New(), ticketID, now)
	assert.ErrorIs(t, store.Bookings().Create(ctx, second), domain.ErrBookingConflict)

	require.NoError(t, store.Bookings().UpdateStatus(ctx, first, domain.BookingStatusCancelled))
	exists, err := store.Bookings().ExistsActiveForTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, store.Bookings().Create(ctx, second))
}

func TestMemoryBookings_FindWaitingCreatedBefore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	put := func(status domain.BookingStatus, age time.Duration) domain.Booking {
		b := domain.NewBooking(uuid.New(), uuid.New(), now.Add(-age))
		b.Status = status
		store.PutBooking(*b)
		return *b
	}
	oldest := put(domain.BookingStatusWaitingForPayment, 40*time.Minute)
	older := put(domain.BookingStatusWaitingForPayment, 20*time.Minute)
	put(domain.BookingStatusWaitingForPayment, 5*time.Minute)
	put(domain.BookingStatusCreated, time.Hour)

	cutoff := now.Add(-15 * time.Minute)
	found, err := store.Bookings().FindWaitingCreatedBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, oldest.ID, found[0].ID)
	assert.Equal(t, older.ID, found[1].ID)

	limited, err := store.Bookings().FindWaitingCreatedBefore(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	waiting, overdue, err := store.Bookings().CountWaiting(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), waiting)
	assert.Equal(t, int64(2), overdue)
}

func TestMemoryLedger_RejectsDuplicateOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	entry := &domain.ProcessedPaymentNotification{ID: uuid.New(), ExternalOrderID: "ORDER-1", BookingID: uuid.New()}

	require.NoError(t, store.Ledger().Append(ctx, entry))
	assert.ErrorIs(t, store.Ledger().Append(ctx, entry), domain.ErrNotificationAlreadyProcessed)

	exists, err := store.Ledger().Exists(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, store.LedgerSize())
}

func TestMemoryUsers_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	_, err := store.Users().GetByID(ctx, id)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	u, err := store.Users().GetOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	again, err := store.Users().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, u.CreatedAt, again.CreatedAt)
}

func TestMemoryStore_RunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seeded := seedTicket(store)
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		ticket, err := store.Tickets().GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		require.NoError(t, store.Tickets().UpdateStatus(ctx, ticket, domain.TicketStatusReserved))

		// nested calls join the outer transaction
		return store.RunInTx(ctx, func(ctx context.Context) error {
			return store.Bookings().Create(ctx, domain.NewBooking(uuid.New(), seeded.ID, time.Now()))
		})
	})
	require.NoError(t, err)

	err = store.RunInTx(ctx, func(ctx context.Context) error {
		ticket, err := store.Tickets().GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		require.NoError(t, store.Tickets().UpdateStatus(ctx, ticket, domain.TicketStatusSold))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ticket, err := store.Tickets().GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReserved, ticket.Status)
	assert.Equal(t, int64(1), ticket.Version)
}
