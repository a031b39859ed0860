package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const activeTicketIndex = "uq_bookings_active_ticket"

const bookingColumns = `id, user_id, ticket_id, status, created_at, updated_at, version`

// PostgresBookingRepository implements BookingRepository using PostgreSQL
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

// Create inserts a booking. The partial unique index on active bookings
// turns a racing second insert into domain.ErrBookingConflict.
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID.String()),
		attribute.String("user_id", booking.UserID.String()),
		attribute.String("ticket_id", booking.TicketID.String()),
	)

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		booking.ID,
		booking.UserID,
		booking.TicketID,
		booking.Status.String(),
		booking.CreatedAt,
		booking.UpdatedAt,
		booking.Version,
	)
	if err != nil {
		if isUniqueViolation(err, activeTicketIndex) {
			return domain.ErrBookingConflict
		}
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("failed to create booking: %w", err)
	}

	telemetry.SetSpanOK(span)
	return nil
}

// GetByID retrieves a booking by its ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id.String()))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	telemetry.SetSpanOK(span)
	return booking, nil
}

// ExistsActiveForTicket probes for a non-cancelled booking on the ticket
func (r *PostgresBookingRepository) ExistsActiveForTicket(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.exists_active")
	defer span.End()

	query := `SELECT EXISTS (SELECT 1 FROM bookings WHERE ticket_id = $1 AND status <> 'CANCELLED')`

	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, query, ticketID).Scan(&exists); err != nil {
		telemetry.SetSpanError(span, err)
		return false, fmt.Errorf("failed to probe active booking: %w", err)
	}
	return exists, nil
}

// UpdateStatus writes next only if the stored version still equals booking.Version
func (r *PostgresBookingRepository) UpdateStatus(ctx context.Context, booking *domain.Booking, next domain.BookingStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID.String()),
		attribute.String("from", booking.Status.String()),
		attribute.String("to", next.String()),
		attribute.Int64("version", booking.Version),
	)

	now := time.Now()
	query := `
		UPDATE bookings
		SET status = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, booking.ID, booking.Version, next.String(), now)
	if err != nil {
		if isUniqueViolation(err, activeTicketIndex) {
			return domain.ErrBookingConflict
		}
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if result.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("version_conflict", true))
		return domain.ErrVersionConflict
	}

	booking.Status = next
	booking.UpdatedAt = now
	booking.Version++
	telemetry.SetSpanOK(span)
	return nil
}

// ListByUser returns the user's bookings, newest first
func (r *PostgresBookingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID.String()))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryBookings(ctx, span, query, userID)
}

// FindWaitingCreatedBefore returns overdue WAITING_FOR_PAYMENT bookings, oldest first
func (r *PostgresBookingRepository) FindWaitingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.find_waiting")
	defer span.End()

	span.SetAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339)), attribute.Int("limit", limit))

	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'WAITING_FOR_PAYMENT' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	return r.queryBookings(ctx, span, query, cutoff, limit)
}

// CountWaiting returns the WAITING_FOR_PAYMENT total and the overdue subset
func (r *PostgresBookingRepository) CountWaiting(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.count_waiting")
	defer span.End()

	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at < $1)
		FROM bookings
		WHERE status = 'WAITING_FOR_PAYMENT'
	`

	var waiting, overdue int64
	if err := conn(ctx, r.pool).QueryRow(ctx, query, cutoff).Scan(&waiting, &overdue); err != nil {
		telemetry.SetSpanError(span, err)
		return 0, 0, fmt.Errorf("failed to count waiting bookings: %w", err)
	}
	return waiting, overdue, nil
}

func (r *PostgresBookingRepository) queryBookings(ctx context.Context, span trace.Span, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*domain.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			telemetry.SetSpanError(span, err)
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	telemetry.SetSpanOK(span)
	return bookings, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		booking domain.Booking
		status  string
	)
	if err := row.Scan(
		&booking.ID,
		&booking.UserID,
		&booking.TicketID,
		&status,
		&booking.CreatedAt,
		&booking.UpdatedAt,
		&booking.Version,
	); err != nil {
		return nil, err
	}
	booking.Status = domain.BookingStatus(status)
	return &booking, nil
}
