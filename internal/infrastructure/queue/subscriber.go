package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
)

// RecordSource is the part of a group-consuming *kgo.Client the subscriber
// needs.
type RecordSource interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	AllowRebalance()
	Close()
}

const defaultRestartDelay = 5 * time.Second

// SourceFactory opens a RecordSource when the subscriber starts and again
// each time it restarts.
type SourceFactory func() (RecordSource, error)

// Subscriber feeds consumed records to an AuditService one at a time.
//
// A record is marked for commit once it is written, skipped as a duplicate,
// rejected as malformed, or panics. Any other failure leaves it and the rest
// of its batch unmarked; the source is closed and reopened after the restart
// delay so the group resumes from the last committed offset and the record is
// delivered again.
type Subscriber struct {
	open         SourceFactory
	service      ports.AuditService
	restartDelay time.Duration
	log          zerolog.Logger
}

type SubscriberOption func(*Subscriber)

// WithRestartDelay sets how long the subscriber waits before reopening the
// source after a record could not be processed.
func WithRestartDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.restartDelay = d
		}
	}
}

func NewSubscriber(open SourceFactory, service ports.AuditService, log zerolog.Logger, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		open:         open,
		service:      service,
		restartDelay: defaultRestartDelay,
		log:          log.With().Str("component", "subscriber").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscription is a running consume loop.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop ends the loop and waits for it to exit. It returns the error that
// prevented the loop from starting, if any.
func (s *Subscription) Stop() error {
	s.cancel()
	<-s.done
	return s.err
}

// Done is closed once the loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Start opens the source and consumes in the background until ctx is
// cancelled or the subscription is stopped.
func (s *Subscriber) Start(ctx context.Context) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	src, err := s.open()
	if err != nil {
		sub.err = fmt.Errorf("open consumer: %w", err)
		s.log.Error().Err(err).Msg("failed to start consumer")
		close(sub.done)
		return sub
	}

	go func() {
		defer close(sub.done)
		s.run(ctx, src)
		s.log.Info().Msg("consumer stopped")
	}()

	s.log.Info().Msg("consumer started")
	return sub
}

// run consumes from src and reopens the source whenever a record has to be
// redelivered.
func (s *Subscriber) run(ctx context.Context, src RecordSource) {
	for src != nil {
		redeliver := s.consume(ctx, src)
		src.Close()
		src = nil
		if !redeliver {
			return
		}

		for src == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartDelay):
			}
			next, err := s.open()
			if err != nil {
				s.log.Error().Err(err).Dur("retry_in", s.restartDelay).Msg("failed to reopen consumer")
				continue
			}
			s.log.Info().Msg("consumer reopened")
			src = next
		}
	}
}

// consume polls until ctx ends or the client closes, returning false, or
// until a record fails in a way worth retrying, returning true.
func (s *Subscriber) consume(ctx context.Context, src RecordSource) bool {
	for {
		fetches := src.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return false
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			if ctx.Err() != nil {
				return false
			}
			r := iter.Next()
			if !s.handle(ctx, r) {
				s.log.Warn().
					Str("topic", r.Topic).
					Int32("partition", r.Partition).
					Int64("offset", r.Offset).
					Dur("retry_in", s.restartDelay).
					Msg("message left uncommitted, restarting consumer")
				src.AllowRebalance()
				return true
			}
			src.MarkCommitRecords(r)
		}

		src.AllowRebalance()
	}
}

// handle processes r and reports whether it may be committed.
func (s *Subscriber) handle(ctx context.Context, r *kgo.Record) (commit bool) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error().
				Interface("panic", p).
				Str("topic", r.Topic).
				Int64("offset", r.Offset).
				Msg("panic while processing message")
			commit = true
		}
	}()

	msg := ports.Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
	err := s.service.Process(ctx, msg)
	if err == nil {
		return true
	}
	s.log.Error().Err(err).
		Str("topic", r.Topic).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Msg("failed to process message")
	return errors.Is(err, domain.ErrMalformedPayload)
}
