package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
	"github.com/99minutos/authstream/internal/metrics"
)

type auditService struct {
	sink  ports.LogSink
	dedup ports.MessageDedup
	clock Clock
	log   zerolog.Logger
}

// NewAuditService returns an AuditService writing to sink. dedup may be nil,
// in which case every delivery is processed.
func NewAuditService(sink ports.LogSink, dedup ports.MessageDedup, log zerolog.Logger, clock Clock) ports.AuditService {
	if clock == nil {
		clock = time.Now
	}
	return &auditService{
		sink:  sink,
		dedup: dedup,
		clock: clock,
		log:   log.With().Str("component", "audit").Logger(),
	}
}

// Process validates, deduplicates and records a single consumed message.
func (s *auditService) Process(ctx context.Context, msg ports.Message) error {
	ctx, span := tracer.Start(ctx, "audit.process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	start := time.Now()
	result := "error"
	defer func() {
		metrics.MessagesConsumedTotal.WithLabelValues(msg.Topic, result).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
	}()

	// 1. Payload must be JSON; anything else is dropped.
	if !json.Valid(msg.Value) {
		result = "malformed"
		return fmt.Errorf("%w: %w (topic %s partition %d offset %d)",
			domain.ErrConsume, domain.ErrMalformedPayload, msg.Topic, msg.Partition, msg.Offset)
	}

	// 2. Redeliveries are skipped. A failing dedup store never blocks processing.
	if s.dedup != nil {
		isDup, err := s.dedup.IsDuplicate(ctx, msg.Topic, msg.Partition, msg.Offset)
		if err != nil {
			metrics.MessagesDedupTotal.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("dedup check failed, processing anyway")
		} else if isDup {
			metrics.MessagesDedupTotal.WithLabelValues("hit").Inc()
			result = "duplicate"
			s.log.Debug().Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("duplicate message skipped")
			return nil
		} else {
			metrics.MessagesDedupTotal.WithLabelValues("miss").Inc()
		}
	}

	data := make(json.RawMessage, len(msg.Value))
	copy(data, msg.Value)

	entry := &domain.ProcessedLogEntry{
		Timestamp:   s.clock().UTC(),
		Topic:       msg.Topic,
		Data:        data,
		ProcessedBy: domain.ProcessedByConsumer,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
	}

	// 3. Emit the entry.
	if err := s.sink.Write(ctx, entry); err != nil {
		return fmt.Errorf("%w: write entry: %w", domain.ErrConsume, err)
	}

	// 4. Mark only after the write so a failed write is retried on redelivery.
	if s.dedup != nil {
		if err := s.dedup.Mark(ctx, msg.Topic, msg.Partition, msg.Offset); err != nil {
			s.log.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("failed to set dedup key")
		}
	}

	result = "processed"
	return nil
}
