package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

type memTxKey struct{}

// MemoryStore is an in-process implementation of every repository and of
// TxManager. Transactions are serialized and rolled back by restoring a
// snapshot, so writes made outside RunInTx during a failing transaction are
// lost too. It backs local runs and service tests.
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	tickets  map[uuid.UUID]domain.Ticket
	bookings map[uuid.UUID]domain.Booking
	users    map[uuid.UUID]domain.User
	ledger   map[string]domain.ProcessedPaymentNotification

	now func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[uuid.UUID]domain.Ticket),
		bookings: make(map[uuid.UUID]domain.Booking),
		users:    make(map[uuid.UUID]domain.User),
		ledger:   make(map[string]domain.ProcessedPaymentNotification),
		now:      time.Now,
	}
}

// Tickets returns the store as a TicketRepository
func (s *MemoryStore) Tickets() TicketRepository { return memTickets{s} }

// Bookings returns the store as a BookingRepository
func (s *MemoryStore) Bookings() BookingRepository { return memBookings{s} }

// Users returns the store as a UserRepository
func (s *MemoryStore) Users() UserRepository { return memUsers{s} }

// Ledger returns the store as a NotificationLedger
func (s *MemoryStore) Ledger() NotificationLedger { return memLedger{s} }

// PutTicket seeds or overwrites a ticket
func (s *MemoryStore) PutTicket(t domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
}

// PutUser seeds or overwrites a user
func (s *MemoryStore) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutBooking seeds or overwrites a booking, bypassing the active-ticket check
func (s *MemoryStore) PutBooking(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// LedgerSize returns the number of ledger rows
func (s *MemoryStore) LedgerSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ledger)
}

// RunInTx implements TxManager
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	tickets  map[uuid.UUID]domain.Ticket
	bookings map[uuid.UUID]domain.Booking
	users    map[uuid.UUID]domain.User
	ledger   map[string]domain.ProcessedPaymentNotification
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memSnapshot{
		tickets:  cloneMap(s.tickets),
		bookings: cloneMap(s.bookings),
		users:    cloneMap(s.users),
		ledger:   cloneMap(s.ledger),
	}
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = snap.tickets
	s.bookings = snap.bookings
	s.users = snap.users
	s.ledger = snap.ledger
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTickets struct{ s *MemoryStore }

func (r memTickets) GetByID(_ context.Context, id uuid.UUID) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return &t, nil
}

func (r memTickets) UpdateStatus(_ context.Context, ticket *domain.Ticket, next domain.TicketStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.tickets[ticket.ID]
	if !ok || stored.Version != ticket.Version {
		return domain.ErrVersionConflict
	}
	stored.Status = next
	stored.Version++
	r.s.tickets[ticket.ID] = stored
	ticket.Status = next
	ticket.Version = stored.Version
	return nil
}

type memBookings struct{ s *MemoryStore }

func (r memBookings) Create(_ context.Context, booking *domain.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bookings {
		if b.TicketID == booking.TicketID && b.IsActive() {
			return domain.ErrBookingConflict
		}
	}
	r.s.bookings[booking.ID] = *booking
	return nil
}

func (r memBookings) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (r memBookings) ExistsActiveForTicket(_ context.Context, ticketID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, b := range r.s.bookings {
		if b.TicketID == ticketID && b.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (r memBookings) UpdateStatus(_ context.Context, booking *domain.Booking, next domain.BookingStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.bookings[booking.ID]
	if !ok || stored.Version != booking.Version {
		return domain.ErrVersionConflict
	}
	stored.Status = next
	stored.UpdatedAt = r.s.now()
	stored.Version++
	r.s.bookings[booking.ID] = stored
	*booking = stored
	return nil
}

func (r memBookings) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.Booking, error) {
	return r.filter(func(b domain.Booking) bool { return b.UserID == userID }, func(a, b domain.Booking) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, 0), nil
}

func (r memBookings) FindWaitingCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	return r.filter(func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusWaitingForPayment && b.CreatedAt.Before(cutoff)
	}, func(a, b domain.Booking) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}, limit), nil
}

func (r memBookings) CountWaiting(_ context.Context, cutoff time.Time) (int64, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var waiting, overdue int64
	for _, b := range r.s.bookings {
		if b.Status != domain.BookingStatusWaitingForPayment {
			continue
		}
		waiting++
		if b.CreatedAt.Before(cutoff) {
			overdue++
		}
	}
	return waiting, overdue, nil
}

func (r memBookings) filter(keep func(domain.Booking) bool, less func(a, b domain.Booking) bool, limit int) []*domain.Booking {
	r.s.mu.RLock()
	matched := make([]domain.Booking, 0)
	for _, b := range r.s.bookings {
		if keep(b) {
			matched = append(matched, b)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*domain.Booking, len(matched))
	for i := range matched {
		out[i] = &matched[i]
	}
	return out
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r memUsers) GetOrCreate(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		u = domain.User{ID: id, CreatedAt: r.s.now()}
		r.s.users[id] = u
	}
	return &u, nil
}

type memLedger struct{ s *MemoryStore }

func (l memLedger) Exists(_ context.Context, externalOrderID string) (bool, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	_, ok := l.s.ledger[externalOrderID]
	return ok, nil
}

func (l memLedger) Append(_ context.Context, entry *domain.ProcessedPaymentNotification) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if _, ok := l.s.ledger[entry.ExternalOrderID]; ok {
		return domain.ErrNotificationAlreadyProcessed
	}
	l.s.ledger[entry.ExternalOrderID] = *entry
	return nil
}
