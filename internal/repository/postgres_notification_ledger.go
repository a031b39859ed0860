package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// PostgresNotificationLedger implements NotificationLedger using PostgreSQL
type PostgresNotificationLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresNotificationLedger creates a new PostgresNotificationLedger
func NewPostgresNotificationLedger(pool *pgxpool.Pool) *PostgresNotificationLedger {
	return &PostgresNotificationLedger{pool: pool}
}

// Exists reports whether the external order id was already applied
func (l *PostgresNotificationLedger) Exists(ctx context.Context, externalOrderID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.exists")
	defer span.End()

	span.SetAttributes(attribute.String("external_order_id", externalOrderID))

	query := `SELECT EXISTS (SELECT 1 FROM processed_payment_notifications WHERE external_order_id = $1)`

	var exists bool
	if err := conn(ctx, l.pool).QueryRow(ctx, query, externalOrderID).Scan(&exists); err != nil {
		telemetry.SetSpanError(span, err)
		return false, fmt.Errorf("failed to check notification ledger: %w", err)
	}
	return exists, nil
}

// Append records a processed notification. ON CONFLICT keeps the surrounding
// transaction usable; zero affected rows means another delivery won.
func (l *PostgresNotificationLedger) Append(ctx context.Context, entry *domain.ProcessedPaymentNotification) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.append")
	defer span.End()

	span.SetAttributes(
		attribute.String("external_order_id", entry.ExternalOrderID),
		attribute.String("booking_id", entry.BookingID.String()),
		attribute.String("status", string(entry.Status)),
	)

	query := `
		INSERT INTO processed_payment_notifications (id, external_order_id, booking_id, status, amount, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_order_id) DO NOTHING
	`

	result, err := conn(ctx, l.pool).Exec(ctx, query,
		entry.ID,
		entry.ExternalOrderID,
		entry.BookingID,
		string(entry.Status),
		entry.Amount.MinorUnits(),
		entry.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrNotificationAlreadyProcessed
		}
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("failed to append notification ledger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotificationAlreadyProcessed
	}

	telemetry.SetSpanOK(span)
	return nil
}
