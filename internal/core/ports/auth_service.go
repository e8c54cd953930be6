package ports

import (
	"context"

	"github.com/99minutos/authstream/internal/core/domain"
)

// LoginInput carries the credentials and request metadata for a login.
type LoginInput struct {
	Email         string
	Password      string
	SourceAddress string
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Token string
	User  *domain.User
}

type AuthService interface {
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
}

// SessionValidator resolves an Authorization header to the user it belongs to.
type SessionValidator interface {
	Validate(ctx context.Context, authorizationHeader string) (*domain.User, error)
}
