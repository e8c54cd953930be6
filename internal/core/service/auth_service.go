package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
	"github.com/99minutos/authstream/internal/metrics"
)

const DefaultTokenTTL = 24 * time.Hour

var tracer = otel.Tracer("github.com/99minutos/authstream/internal/core/service")

// dummyHash is compared against when the email is unknown so that a missing
// account costs the same bcrypt work as a wrong password. It is built on the
// first miss rather than at package init.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	return h
})

// Claims is the payload of an issued session token.
type Claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// Clock returns the current time. Injected so tests can pin issuance.
type Clock func() time.Time

// AuthService issues session tokens.
type AuthService struct {
	users     ports.UserRepository
	tokens    ports.TokenRepository
	events    ports.EventPublisher
	jwtSecret []byte
	tokenTTL  time.Duration
	clock     Clock
	log       zerolog.Logger
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithClock overrides time.Now.
func WithClock(clock Clock) AuthOption {
	return func(s *AuthService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func NewAuthService(
	users ports.UserRepository,
	tokens ports.TokenRepository,
	events ports.EventPublisher,
	jwtSecret string,
	log zerolog.Logger,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		users:     users,
		tokens:    tokens,
		events:    events,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  DefaultTokenTTL,
		clock:     time.Now,
		log:       log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the credentials, issues a token, records it and announces
// the login. Publishing happens after the token row is written and cannot
// change the result.
func (s *AuthService) Login(ctx context.Context, in ports.LoginInput) (*ports.LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer span.End()

	user, err := s.authenticate(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		} else {
			metrics.LoginsTotal.WithLabelValues("error").Inc()
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	issuedAt := s.clock().UTC()
	expiresAt := issuedAt.Add(s.tokenTTL)

	token, err := s.sign(user.ID, issuedAt, expiresAt)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("login: sign token: %w", err)
	}

	// The stored expiry is computed here, not read back from the claim.
	row := &domain.SessionToken{
		UserID:    user.ID,
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("login: store token: %w", err)
	}

	activity := domain.ActivityEvent{
		Timestamp:     s.clock().UTC(),
		UserID:        user.ID,
		Action:        domain.ActionLogin,
		SourceAddress: in.SourceAddress,
	}
	s.log.Info().
		Int64("user_id", activity.UserID).
		Str("action", activity.Action).
		Str("source_address", activity.SourceAddress).
		Msg("user activity")

	key := strconv.FormatInt(user.ID, 10)
	s.events.Publish(ctx, domain.TopicUserActivity, key, activity)
	s.events.Publish(ctx, domain.TopicDatabaseChanges, key, domain.DatabaseChangeEvent{
		Timestamp: s.clock().UTC(),
		Operation: domain.OperationInsert,
		Table:     domain.TableUserTokens,
		UserID:    user.ID,
	})

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	return &ports.LoginResult{
		Token: token,
		User:  &domain.User{ID: user.ID, Email: user.Email},
	}, nil
}

// authenticate collapses every lookup and password failure into
// ErrInvalidCredentials. Store errors other than "no such user" surface as-is.
func (s *AuthService) authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrAmbiguousUser):
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, domain.ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("login: find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

func (s *AuthService) sign(userID int64, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.jwtSecret)
}
