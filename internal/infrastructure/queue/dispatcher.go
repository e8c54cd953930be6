package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
	"github.com/99minutos/authstream/internal/metrics"
)

const (
	defaultWorkers = 4
	defaultTimeout = 10 * time.Second
	channelBuffer  = 256
)

// Producer is the part of *kgo.Client the dispatcher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// ProducerSource returns the current producer, or domain.ErrNotConnected.
type ProducerSource func() (Producer, error)

// FromClient adapts a supervised *kgo.Client to a ProducerSource.
func FromClient(src interface{ Get() (*kgo.Client, error) }) ProducerSource {
	return func() (Producer, error) {
		cl, err := src.Get()
		if err != nil {
			return nil, err
		}
		return cl, nil
	}
}

type outbound struct {
	topic string
	key   string
	value []byte
}

// Dispatcher implements ports.EventPublisher. Events are routed to a fixed
// set of workers by hashing the key, so events sharing a key are sent in
// the order they were published.
type Dispatcher struct {
	workers  []chan outbound
	producer ProducerSource
	timeout  time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup

	// mu guards closed. Publish holds the read lock across its enqueue so
	// nothing lands in a worker queue after the drain has started.
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

var _ ports.EventPublisher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used. timeout bounds each send.
func NewDispatcher(numWorkers int, producer ProducerSource, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := &Dispatcher{
		workers:  make([]chan outbound, numWorkers),
		producer: producer,
		timeout:  timeout,
		log:      log.With().Str("component", "publisher").Logger(),
		stopped:  make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan outbound, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. When ctx is cancelled the
// dispatcher stops accepting events, each worker sends whatever is still
// buffered and exits; Wait blocks until then. Events published after that
// point are counted as dropped.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(i, ch)
	}
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stopped)
	}()
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Publish encodes payload as JSON and queues it for the worker owning key.
// It never blocks: when that worker's queue is full the event is dropped.
func (d *Dispatcher) Publish(_ context.Context, topic, key string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "encode_error").Inc()
		d.log.Error().Err(err).Str("topic", topic).Msg("failed to encode event")
		return
	}

	idx := d.shardIndex(key)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "dropped").Inc()
		d.log.Warn().Err(domain.ErrPublish).Str("topic", topic).Str("key", key).Msg("publisher stopped, event dropped")
		return
	}

	select {
	case d.workers[idx] <- outbound{topic: topic, key: key, value: value}:
		metrics.PublishQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	default:
		metrics.EventsPublishedTotal.WithLabelValues(topic, "dropped").Inc()
		d.log.Warn().Str("topic", topic).Str("key", key).Int("worker_id", idx).Msg("publish queue full, event dropped")
	}
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(id int, ch <-chan outbound) {
	defer d.wg.Done()
	label := strconv.Itoa(id)

	for {
		select {
		case <-d.stopped:
			d.drain(id, ch)
			return
		case msg := <-ch:
			metrics.PublishQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			d.send(id, msg)
		}
	}
}

func (d *Dispatcher) drain(id int, ch <-chan outbound) {
	for {
		select {
		case msg := <-ch:
			d.send(id, msg)
		default:
			metrics.PublishQueueDepth.WithLabelValues(strconv.Itoa(id)).Set(0)
			return
		}
	}
}

// send delivers one event. Sends are detached from the request that
// produced them and bounded by the dispatcher timeout.
func (d *Dispatcher) send(id int, msg outbound) {
	producer, err := d.producer()
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(msg.topic, "not_connected").Inc()
		d.log.Warn().Err(fmt.Errorf("%w: %w", domain.ErrPublish, err)).Str("topic", msg.topic).Int("worker_id", id).Msg("broker not connected, event dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	rec := &kgo.Record{Topic: msg.topic, Key: []byte(msg.key), Value: msg.value}
	if err := producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(msg.topic, "error").Inc()
		d.log.Error().Err(fmt.Errorf("%w: %w", domain.ErrPublish, err)).Str("topic", msg.topic).Int("worker_id", id).Msg("failed to publish event")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(msg.topic, "sent").Inc()
}
