package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// PostgresTicketRepository implements TicketRepository using PostgreSQL
type PostgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketRepository creates a new PostgresTicketRepository
func NewPostgresTicketRepository(pool *pgxpool.Pool) *PostgresTicketRepository {
	return &PostgresTicketRepository{pool: pool}
}

// GetByID loads a ticket with its event name
func (r *PostgresTicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("ticket_id", id.String()))

	query := `
		SELECT t.id, t.event_id, COALESCE(e.name, ''), t.price::text, t.status, t.version
		FROM tickets t
		LEFT JOIN events e ON e.id = t.event_id
		WHERE t.id = $1
	`

	var (
		ticket domain.Ticket
		price  string
		status string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.EventID,
		&ticket.EventName,
		&price,
		&status,
		&ticket.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	if ticket.Price, err = domain.ParseMoney(price); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("ticket %s has unreadable price: %w", id, err)
	}
	ticket.Status = domain.TicketStatus(status)

	telemetry.SetSpanOK(span)
	return &ticket, nil
}

// UpdateStatus writes next only if the stored version still equals ticket.Version
func (r *PostgresTicketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket, next domain.TicketStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("ticket_id", ticket.ID.String()),
		attribute.String("from", string(ticket.Status)),
		attribute.String("to", string(next)),
		attribute.Int64("version", ticket.Version),
	)

	query := `
		UPDATE tickets
		SET status = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, ticket.ID, ticket.Version, string(next))
	if err != nil {
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	if result.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("version_conflict", true))
		return domain.ErrVersionConflict
	}

	ticket.Status = next
	ticket.Version++
	telemetry.SetSpanOK(span)
	return nil
}
