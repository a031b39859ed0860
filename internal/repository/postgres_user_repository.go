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

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", id.String()))

	query := `
		SELECT id, COALESCE(email, ''), COALESCE(username, ''), COALESCE(first_name, ''),
		       COALESCE(last_name, ''), COALESCE(phone, ''), created_at
		FROM users
		WHERE id = $1
	`

	var user domain.User
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	telemetry.SetSpanOK(span)
	return &user, nil
}

// GetOrCreate inserts a bare user row for an authenticated id seen for the first time
func (r *PostgresUserRepository) GetOrCreate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.get_or_create")
	defer span.End()

	query := `INSERT INTO users (id, created_at) VALUES ($1, NOW()) ON CONFLICT (id) DO NOTHING`
	if _, err := conn(ctx, r.pool).Exec(ctx, query, id); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	return r.GetByID(ctx, id)
}
