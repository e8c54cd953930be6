package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
	"github.com/99minutos/authstream/internal/core/service"
)

// fakeSource delivers each queued batch once, then blocks until ctx ends.
type fakeSource struct {
	mu      sync.Mutex
	batches []kgo.Fetches
	marked  []*kgo.Record
	closed  bool
}

func (s *fakeSource) PollFetches(ctx context.Context) kgo.Fetches {
	s.mu.Lock()
	if len(s.batches) > 0 {
		f := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return f
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kgo.NewErrFetch(ctx.Err())
}

func (s *fakeSource) MarkCommitRecords(rs ...*kgo.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, rs...)
}

func (s *fakeSource) AllowRebalance() {}

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSource) markedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marked)
}

func fetchOf(records ...*kgo.Record) kgo.Fetches {
	byTopic := map[string][]*kgo.Record{}
	var order []string
	for _, r := range records {
		if _, ok := byTopic[r.Topic]; !ok {
			order = append(order, r.Topic)
		}
		byTopic[r.Topic] = append(byTopic[r.Topic], r)
	}
	var topics []kgo.FetchTopic
	for _, t := range order {
		topics = append(topics, kgo.FetchTopic{
			Topic:      t,
			Partitions: []kgo.FetchPartition{{Partition: 0, Records: byTopic[t]}},
		})
	}
	return kgo.Fetches{{Topics: topics}}
}

type captureService struct {
	mu    sync.Mutex
	msgs  []ports.Message
	panic bool
	onMsg func()
}

func (c *captureService) Process(_ context.Context, msg ports.Message) error {
	if c.onMsg != nil {
		c.onMsg()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	if c.panic && len(c.msgs) == 1 {
		panic("boom")
	}
	if string(msg.Value) == "bad" {
		return fmt.Errorf("%w: %w", domain.ErrConsume, domain.ErrMalformedPayload)
	}
	return nil
}

func (c *captureService) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// captureSink records entries. The first `failures` writes return an error.
type captureSink struct {
	mu       sync.Mutex
	entries  []*domain.ProcessedLogEntry
	failures int
	attempts int
}

func (s *captureSink) Write(_ context.Context, e *domain.ProcessedLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("disk full")
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *captureSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *captureSink) all() []*domain.ProcessedLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.ProcessedLogEntry(nil), s.entries...)
}

func TestSubscriber_ContinuesPastFailingMessage(t *testing.T) {
	src := &fakeSource{batches: []kgo.Fetches{fetchOf(
		&kgo.Record{Topic: "user-activity", Offset: 0, Value: []byte("bad")},
		&kgo.Record{Topic: "user-activity", Offset: 1, Value: []byte(`{"ok":true}`)},
	)}}
	svc := &captureService{}

	sub := NewSubscriber(func() (RecordSource, error) { return src, nil }, svc, zerolog.Nop()).
		Start(context.Background())

	require.Eventually(t, func() bool { return src.markedCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Stop())

	assert.Equal(t, 2, svc.count())
	assert.True(t, src.isClosed())
}

func TestSubscriber_SinkFailureLeavesRecordUncommitted(t *testing.T) {
	src := &fakeSource{batches: []kgo.Fetches{fetchOf(
		&kgo.Record{Topic: "user-activity", Offset: 0, Value: []byte(`{"user_id":1}`)},
		&kgo.Record{Topic: "user-activity", Offset: 1, Value: []byte(`{"user_id":2}`)},
	)}}
	sink := &captureSink{failures: 1}
	audit := service.NewAuditService(sink, nil, zerolog.Nop(), nil)
	var opens int
	open := func() (RecordSource, error) {
		opens++
		if opens > 1 {
			return nil, errors.New("unexpected reopen")
		}
		return src, nil
	}

	sub := NewSubscriber(open, audit, zerolog.Nop(), WithRestartDelay(time.Hour)).
		Start(context.Background())

	require.Eventually(t, src.isClosed, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Stop())

	assert.Zero(t, src.markedCount())
	assert.Equal(t, 1, sink.attemptCount(), "rest of the batch is left for redelivery")
	assert.Empty(t, sink.all())
}

func TestSubscriber_RedeliversAfterSinkFailure(t *testing.T) {
	rec := func() *kgo.Record {
		return &kgo.Record{Topic: "database-changes", Partition: 0, Offset: 5, Value: []byte(`{"user_id":3}`)}
	}
	first := &fakeSource{batches: []kgo.Fetches{fetchOf(rec())}}
	second := &fakeSource{batches: []kgo.Fetches{fetchOf(rec())}}
	sources := []*fakeSource{first, second}
	var mu sync.Mutex
	open := func() (RecordSource, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(sources) == 0 {
			return nil, errors.New("no more sources")
		}
		src := sources[0]
		sources = sources[1:]
		return src, nil
	}

	sink := &captureSink{failures: 1}
	audit := service.NewAuditService(sink, nil, zerolog.Nop(), nil)
	sub := NewSubscriber(open, audit, zerolog.Nop(), WithRestartDelay(10*time.Millisecond)).
		Start(context.Background())

	require.Eventually(t, func() bool { return second.markedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Stop())

	assert.Zero(t, first.markedCount())
	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	require.Len(t, sink.all(), 1)
	assert.Equal(t, int64(5), sink.all()[0].Offset)
	assert.Equal(t, 2, sink.attemptCount())
}

func TestSubscriber_StopsBetweenRecords(t *testing.T) {
	src := &fakeSource{batches: []kgo.Fetches{fetchOf(
		&kgo.Record{Topic: "user-activity", Offset: 0, Value: []byte(`{}`)},
		&kgo.Record{Topic: "user-activity", Offset: 1, Value: []byte(`{}`)},
		&kgo.Record{Topic: "user-activity", Offset: 2, Value: []byte(`{}`)},
	)}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &captureService{onMsg: cancel}

	sub := NewSubscriber(func() (RecordSource, error) { return src, nil }, svc, zerolog.Nop()).
		Start(ctx)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop after cancel")
	}

	assert.Equal(t, 1, svc.count())
	assert.Equal(t, 1, src.markedCount())
	assert.True(t, src.isClosed())
}

func TestSubscriber_RecoversFromPanic(t *testing.T) {
	src := &fakeSource{batches: []kgo.Fetches{fetchOf(
		&kgo.Record{Topic: "database-changes", Offset: 0, Value: []byte(`{}`)},
		&kgo.Record{Topic: "database-changes", Offset: 1, Value: []byte(`{}`)},
	)}}
	svc := &captureService{panic: true}

	sub := NewSubscriber(func() (RecordSource, error) { return src, nil }, svc, zerolog.Nop()).
		Start(context.Background())

	require.Eventually(t, func() bool { return svc.count() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Stop())
}

func TestSubscriber_StopsWhenParentCancelled(t *testing.T) {
	src := &fakeSource{}
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewSubscriber(func() (RecordSource, error) { return src, nil }, &captureService{}, zerolog.Nop()).
		Start(ctx)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop after cancel")
	}
}

func TestSubscriber_OpenFailure(t *testing.T) {
	sub := NewSubscriber(func() (RecordSource, error) {
		return nil, errors.New("bad seed brokers")
	}, &captureService{}, zerolog.Nop()).Start(context.Background())

	<-sub.Done()
	assert.ErrorContains(t, sub.Stop(), "bad seed brokers")
}

// A published event travels through the dispatcher's encoding and the
// subscriber into the sink with its payload unchanged.
func TestPublishConsumeRoundTrip(t *testing.T) {
	p := &fakeProducer{}
	d := NewDispatcher(2, staticSource(p), time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	activity := domain.ActivityEvent{Timestamp: ts, UserID: 7, Action: domain.ActionLogin, SourceAddress: "10.0.0.1"}
	change := domain.DatabaseChangeEvent{Timestamp: ts, Operation: domain.OperationInsert, Table: domain.TableUserTokens, UserID: 7}
	d.Publish(ctx, domain.TopicUserActivity, "7", activity)
	d.Publish(ctx, domain.TopicDatabaseChanges, "7", change)

	require.Eventually(t, func() bool { return len(p.sent()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	d.Wait()

	for i, r := range p.sent() {
		r.Offset = int64(i)
	}
	src := &fakeSource{batches: []kgo.Fetches{fetchOf(p.sent()...)}}
	sink := &captureSink{}
	audit := service.NewAuditService(sink, nil, zerolog.Nop(), func() time.Time { return ts })

	sub := NewSubscriber(func() (RecordSource, error) { return src, nil }, audit, zerolog.Nop()).
		Start(context.Background())
	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Stop())

	byTopic := map[string]json.RawMessage{}
	for _, e := range sink.all() {
		assert.Equal(t, domain.ProcessedByConsumer, e.ProcessedBy)
		byTopic[e.Topic] = e.Data
	}

	var gotActivity domain.ActivityEvent
	require.NoError(t, json.Unmarshal(byTopic[domain.TopicUserActivity], &gotActivity))
	assert.Equal(t, activity, gotActivity)

	var gotChange domain.DatabaseChangeEvent
	require.NoError(t, json.Unmarshal(byTopic[domain.TopicDatabaseChanges], &gotChange))
	assert.Equal(t, change, gotChange)
}
