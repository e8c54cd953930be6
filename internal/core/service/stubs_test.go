package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
)

const testSecret = "test-secret"

type stubUserRepo struct {
	users []*domain.User
	err   error
}

func newStubUserRepo(users ...*domain.User) *stubUserRepo {
	return &stubUserRepo{users: users}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

func (r *stubUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	var found []*domain.User
	for _, u := range r.users {
		if u.Email == email {
			found = append(found, u)
		}
	}
	switch len(found) {
	case 0:
		return nil, domain.ErrUserNotFound
	case 1:
		return cloneUser(found[0]), nil
	default:
		return nil, domain.ErrAmbiguousUser
	}
}

func (r *stubUserRepo) FindByID(_ context.Context, id int64) (*domain.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.ID == id {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

type stubTokenRepo struct {
	rows []*domain.SessionToken
	err  error
}

func (r *stubTokenRepo) Create(_ context.Context, t *domain.SessionToken) error {
	if r.err != nil {
		return r.err
	}
	clone := *t
	r.rows = append(r.rows, &clone)
	return nil
}

func (r *stubTokenRepo) FindByToken(_ context.Context, token string) (*domain.SessionToken, error) {
	for _, row := range r.rows {
		if row.Token == token {
			clone := *row
			return &clone, nil
		}
	}
	return nil, domain.ErrTokenNotFound
}

type published struct {
	topic   string
	key     string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, key: key, payload: payload})
}

func mustHash(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

type captureSink struct {
	entries []*domain.ProcessedLogEntry
	err     error
}

func (s *captureSink) Write(_ context.Context, e *domain.ProcessedLogEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

type stubDedup struct {
	seen     map[string]bool
	checkErr error
	marks    int
}

func newStubDedup() *stubDedup {
	return &stubDedup{seen: map[string]bool{}}
}

func dedupKey(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, offset)
}

func (d *stubDedup) IsDuplicate(_ context.Context, topic string, partition int32, offset int64) (bool, error) {
	if d.checkErr != nil {
		return false, d.checkErr
	}
	return d.seen[dedupKey(topic, partition, offset)], nil
}

func (d *stubDedup) Mark(_ context.Context, topic string, partition int32, offset int64) error {
	d.marks++
	d.seen[dedupKey(topic, partition, offset)] = true
	return nil
}

var (
	_ ports.UserRepository  = (*stubUserRepo)(nil)
	_ ports.TokenRepository = (*stubTokenRepo)(nil)
	_ ports.EventPublisher  = (*recordingPublisher)(nil)
	_ ports.LogSink         = (*captureSink)(nil)
	_ ports.MessageDedup    = (*stubDedup)(nil)
)

var errStoreDown = errors.New("connection refused")
