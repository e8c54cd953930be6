// Package kafka builds franz-go clients for the event pipeline.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/99minutos/authstream/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Config captures the broker settings shared by producer and consumer.
type Config struct {
	Brokers           []string
	ClientID          string
	GroupID           string
	Topics            []string
	Partitions        int32
	ReplicationFactor int16
	Timeout           time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// NewProducer opens a producing client, verifies a broker answers and makes
// sure every configured topic exists.
func NewProducer(ctx context.Context, cfg Config, log zerolog.Logger) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(logger.NewKgoLogger(log)),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
		kgo.RecordDeliveryTimeout(cfg.timeout()),
		kgo.DialTimeout(cfg.timeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	if err := cl.Ping(pingCtx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}

	if err := EnsureTopics(pingCtx, cl, cfg.Partitions, cfg.ReplicationFactor, cfg.Topics...); err != nil {
		cl.Close()
		return nil, err
	}

	return cl, nil
}

// NewConsumer opens a group-consuming client subscribed to cfg.Topics.
// New groups start at the end of each partition. Offsets are committed only
// for records marked with MarkCommitRecords.
func NewConsumer(cfg Config, log zerolog.Logger) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(logger.NewKgoLogger(log)),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.AutoCommitMarks(),
		kgo.BlockRebalanceOnPoll(),
		kgo.DialTimeout(cfg.timeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return cl, nil
}

// EnsureTopics creates any missing topics. Topics that already exist are
// left untouched.
func EnsureTopics(ctx context.Context, cl *kgo.Client, partitions int32, replicationFactor int16, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if partitions <= 0 {
		partitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}

	// kadm.Client.Close would close cl, so the admin wrapper is not closed.
	adm := kadm.NewClient(cl)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topics...)
	if err != nil {
		return fmt.Errorf("kafka create topics: %w", err)
	}

	var errs []error
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("topic %s: %w", t.Topic, t.Err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("kafka create topics: %w", errors.Join(errs...))
	}
	return nil
}

// Ping is the supervisor health check.
func Ping(ctx context.Context, cl *kgo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return cl.Ping(ctx)
}

// Close is the supervisor closer. Buffered records are flushed first.
func Close(cl *kgo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	_ = cl.Flush(ctx)
	cl.Close()
}
