package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/gateway"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

type mirrorCall struct {
	TicketID  uuid.UUID
	BookingID uuid.UUID
	Kind      domain.MirrorKind
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
	err   error
}

func (m *recordingMirror) Notify(ctx context.Context, ticketID, bookingID uuid.UUID, kind domain.MirrorKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{TicketID: ticketID, BookingID: bookingID, Kind: kind})
	return m.err
}

func (m *recordingMirror) Calls() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorCall(nil), m.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.BookingEvent
	err    error
}

func (n *recordingNotifier) Publish(ctx context.Context, event *domain.BookingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) Events(eventType domain.BookingEventType) []*domain.BookingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*domain.BookingEvent
	for _, e := range n.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingDLQ struct {
	mu       sync.Mutex
	messages []*retry.DLQMessage
}

func (d *recordingDLQ) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDLQ) Messages() []*retry.DLQMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*retry.DLQMessage(nil), d.messages...)
}

// failingGateway returns err from every call
type failingGateway struct{ err error }

func (g failingGateway) CreateOrder(ctx context.Context, req *gateway.OrderRequest) (*gateway.OrderResponse, error) {
	return nil, g.err
}

func (g failingGateway) Name() string { return "failing" }

type mockTicketRepository struct {
	mock.Mock
}

func (m *mockTicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*domain.Ticket)
	if t != nil {
		cp := *t
		t = &cp
	}
	return t, args.Error(1)
}

func (m *mockTicketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket, next domain.TicketStatus) error {
	args := m.Called(ctx, ticket, next)
	if err := args.Error(0); err != nil {
		return err
	}
	ticket.Status = next
	ticket.Version++
	return nil
}

type fixture struct {
	store       *repository.MemoryStore
	reservation TicketReservationService
	lifecycle   BookingLifecycleService
	coordinator *BookingCoordinator
	gateway     *gateway.MockGateway
	mirror      *recordingMirror
	notifier    *recordingNotifier
	user        domain.User
	ticket      domain.Ticket
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithGateway(t, nil)
}

func newFixtureWithGateway(t *testing.T, gw gateway.PaymentGateway) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	user := domain.User{ID: uuid.New(), Email: "buyer@example.com", Username: "buyer", CreatedAt: time.Now()}
	store.PutUser(user)
	ticket := domain.Ticket{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		EventName: "Open'er Festival",
		Price:     domain.MustParseMoney("100.00"),
		Status:    domain.TicketStatusAvailable,
	}
	store.PutTicket(ticket)

	mockGateway := gateway.NewMockGateway(&gateway.MockGatewayConfig{RedirectBase: "https://pay.example.com/redirect"})
	if gw == nil {
		gw = mockGateway
	}

	f := &fixture{
		store:       store,
		reservation: NewTicketReservationService(store.Tickets(), &ReservationServiceConfig{MaxRetries: 3, BaseDelay: 0}),
		lifecycle:   NewBookingLifecycleService(store.Bookings()),
		gateway:     mockGateway,
		mirror:      &recordingMirror{},
		notifier:    &recordingNotifier{},
		user:        user,
		ticket:      ticket,
	}
	f.coordinator = NewBookingCoordinator(store, f.reservation, f.lifecycle, store.Users(), gw, f.mirror, f.notifier, &CoordinatorConfig{
		Currency:       "PLN",
		NotifyBaseURL:  "https://api.example.com",
		FrontendURL:    "https://app.example.com",
		GatewayTimeout: time.Second,
	})
	return f
}

// createBooking books the fixture ticket for the fixture user
func (f *fixture) createBooking(t *testing.T) uuid.UUID {
	t.Helper()
	summary, err := f.coordinator.CreateBooking(context.Background(), f.user.ID, f.ticket.ID)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return summary.ID
}

func (f *fixture) booking(t *testing.T, id uuid.UUID) *domain.Booking {
	t.Helper()
	b, err := f.store.Bookings().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load booking: %v", err)
	}
	return b
}

func (f *fixture) ticketState(t *testing.T) *domain.Ticket {
	t.Helper()
	tk, err := f.store.Tickets().GetByID(context.Background(), f.ticket.ID)
	if err != nil {
		t.Fatalf("load ticket: %v", err)
	}
	return tk
}

var errBoom = errors.New("boom")
