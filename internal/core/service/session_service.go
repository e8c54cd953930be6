package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
)

// SessionService validates bearer tokens on incoming requests.
//
// By default the user_tokens table is audit-only: a token is accepted when its
// signature and expiry are valid and its subject still exists. With
// WithStoreCheck the issued row must also exist and be unexpired.
type SessionService struct {
	users      ports.UserRepository
	tokens     ports.TokenRepository
	jwtSecret  []byte
	checkStore bool
	clock      Clock
	log        zerolog.Logger
}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithStoreCheck makes validation consult the token store.
func WithStoreCheck(enabled bool) SessionOption {
	return func(s *SessionService) { s.checkStore = enabled }
}

// WithSessionClock overrides time.Now for store expiry checks and claim validation.
func WithSessionClock(clock Clock) SessionOption {
	return func(s *SessionService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewSessionService(users ports.UserRepository, tokens ports.TokenRepository, jwtSecret string, log zerolog.Logger, opts ...SessionOption) *SessionService {
	s := &SessionService{
		users:     users,
		tokens:    tokens,
		jwtSecret: []byte(jwtSecret),
		log:       log.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate resolves the Authorization header to a user.
func (s *SessionService) Validate(ctx context.Context, header string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "auth.validate")
	defer span.End()

	raw, ok := bearerToken(header)
	if !ok {
		return nil, domain.ErrMissingToken
	}

	claims, err := s.parse(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("token rejected")
		return nil, domain.ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("validate: find user: %w", err)
	}

	if s.checkStore {
		if err := s.checkIssued(ctx, raw, user.ID); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (s *SessionService) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.clock != nil {
		opts = append(opts, jwt.WithTimeFunc(s.clock))
	}

	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tkn.Valid || claims.UserID == 0 {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (s *SessionService) checkIssued(ctx context.Context, raw string, userID int64) error {
	row, err := s.tokens.FindByToken(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return domain.ErrInvalidToken
		}
		return fmt.Errorf("validate: find token: %w", err)
	}

	now := s.now()
	if row.UserID != userID || !row.Active(now) {
		return domain.ErrInvalidToken
	}
	return nil
}

func (s *SessionService) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
