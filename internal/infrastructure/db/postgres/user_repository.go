package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/99minutos/authstream/internal/core/domain"
)

// UserRepository reads the users table.
type UserRepository struct {
	db PoolSource
}

func NewUserRepository(db PoolSource) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail requires exactly one matching row.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	pool, err := r.db.Get()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := pool.Query(ctx, `SELECT id, email, password_hash FROM users WHERE email = $1 LIMIT 2`, email)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	switch len(users) {
	case 0:
		return nil, domain.ErrUserNotFound
	case 1:
		return users[0], nil
	default:
		return nil, domain.ErrAmbiguousUser
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	pool, err := r.db.Get()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := pool.Query(ctx, `SELECT id, email, password_hash FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.CollectableRow) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash); err != nil {
		return nil, err
	}
	return &u, nil
}
