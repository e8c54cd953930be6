package ports

import (
	"context"

	"github.com/99minutos/authstream/internal/core/domain"
)

// UserRepository is the read side of the credential store.
type UserRepository interface {
	// FindByEmail returns the single user registered under email.
	// It returns domain.ErrUserNotFound when there is none and
	// domain.ErrAmbiguousUser when more than one row matches.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
}

// TokenRepository persists issued session tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *domain.SessionToken) error
	// FindByToken returns domain.ErrTokenNotFound when no row holds token.
	FindByToken(ctx context.Context, token string) (*domain.SessionToken, error)
}
