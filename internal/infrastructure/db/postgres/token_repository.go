package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/99minutos/authstream/internal/core/domain"
)

// TokenRepository writes the user_tokens table.
type TokenRepository struct {
	db PoolSource
}

func NewTokenRepository(db PoolSource) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create inserts one issuance row.
func (r *TokenRepository) Create(ctx context.Context, t *domain.SessionToken) error {
	pool, err := r.db.Get()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = pool.Exec(ctx,
		`INSERT INTO user_tokens (user_id, token, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
		t.UserID, t.Token, t.IssuedAt, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *TokenRepository) FindByToken(ctx context.Context, token string) (*domain.SessionToken, error) {
	pool, err := r.db.Get()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var t domain.SessionToken
	err = pool.QueryRow(ctx,
		`SELECT user_id, token, issued_at, expires_at FROM user_tokens WHERE token = $1`,
		token,
	).Scan(&t.UserID, &t.Token, &t.IssuedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return &t, nil
}
