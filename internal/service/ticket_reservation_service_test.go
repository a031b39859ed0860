package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
)

func TestReserve_Success(t *testing.T) {
	f := newFixture(t)

	ticket, err := f.reservation.Reserve(context.Background(), f.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReserved, ticket.Status)
	assert.Equal(t, int64(1), ticket.Version)
	assert.Equal(t, domain.TicketStatusReserved, f.ticketState(t).Status)
}

func TestReserve_NotAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reservation.Reserve(ctx, f.ticket.ID)
	require.NoError(t, err)

	_, err = f.reservation.Reserve(ctx, f.ticket.ID)
	assert.ErrorIs(t, err, domain.ErrTicketNotAvailable)

	_, err = f.reservation.Reserve(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestReserve_RetriesVersionConflicts(t *testing.T) {
	repo := new(mockTicketRepository)
	ticket := &domain.Ticket{ID: uuid.New(), Status: domain.TicketStatusAvailable, Price: domain.MustParseMoney("10.00")}

	repo.On("GetByID", mock.Anything, ticket.ID).Return(ticket, nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.TicketStatusReserved).Return(domain.ErrVersionConflict).Twice()
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.TicketStatusReserved).Return(nil).Once()

	svc := NewTicketReservationService(repo, &ReservationServiceConfig{MaxRetries: 3})
	reserved, err := svc.Reserve(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReserved, reserved.Status)

	repo.AssertNumberOfCalls(t, "GetByID", 3)
	repo.AssertNumberOfCalls(t, "UpdateStatus", 3)
}

func TestReserve_ConcurrencyExhausted(t *testing.T) {
	repo := new(mockTicketRepository)
	ticket := &domain.Ticket{ID: uuid.New(), Status: domain.TicketStatusAvailable}

	repo.On("GetByID", mock.Anything, ticket.ID).Return(ticket, nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.TicketStatusReserved).Return(domain.ErrVersionConflict)

	svc := NewTicketReservationService(repo, &ReservationServiceConfig{MaxRetries: 3})
	_, err := svc.Reserve(context.Background(), ticket.ID)
	assert.ErrorIs(t, err, domain.ErrConcurrencyExhausted)
	assert.NotErrorIs(t, err, domain.ErrTicketNotAvailable)

	repo.AssertNumberOfCalls(t, "UpdateStatus", 3)
}

func TestReserve_RepositoryErrorIsNotRetried(t *testing.T) {
	repo := new(mockTicketRepository)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(nil, errBoom)

	svc := NewTicketReservationService(repo, nil)
	_, err := svc.Reserve(context.Background(), id)
	assert.ErrorIs(t, err, errBoom)
	repo.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestReserve_ConcurrentCallersExactlyOneWins(t *testing.T) {
	store := repository.NewMemoryStore()
	ticket := domain.Ticket{ID: uuid.New(), Status: domain.TicketStatusAvailable}
	store.PutTicket(ticket)
	svc := NewTicketReservationService(store.Tickets(), &ReservationServiceConfig{MaxRetries: 3})

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		other     []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ticket.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			other = append(other, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range other {
		assert.True(t,
			errors.Is(err, domain.ErrTicketNotAvailable) || errors.Is(err, domain.ErrConcurrencyExhausted),
			"unexpected error: %v", err)
	}
}

func TestMarkSold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	available := f.ticketState(t)
	assert.ErrorIs(t, f.reservation.MarkSold(ctx, available), domain.ErrTicketNotAvailable)

	reserved, err := f.reservation.Reserve(ctx, f.ticket.ID)
	require.NoError(t, err)
	require.NoError(t, f.reservation.MarkSold(ctx, reserved))
	assert.Equal(t, domain.TicketStatusSold, f.ticketState(t).Status)

	assert.ErrorIs(t, f.reservation.MarkSold(ctx, reserved), domain.ErrTicketAlreadySold)
}

func TestMarkAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reserved, err := f.reservation.Reserve(ctx, f.ticket.ID)
	require.NoError(t, err)
	stale := *reserved

	require.NoError(t, f.reservation.MarkAvailable(ctx, reserved))
	assert.Equal(t, domain.TicketStatusAvailable, f.ticketState(t).Status)

	// no retry on a stale version
	assert.ErrorIs(t, f.reservation.MarkAvailable(ctx, &stale), domain.ErrVersionConflict)

	// releasing an available ticket is a no-op
	require.NoError(t, f.reservation.MarkAvailable(ctx, reserved))

	sold := &domain.Ticket{ID: uuid.New(), Status: domain.TicketStatusSold}
	assert.ErrorIs(t, f.reservation.MarkAvailable(ctx, sold), domain.ErrTicketSoldCannotCancel)
}
