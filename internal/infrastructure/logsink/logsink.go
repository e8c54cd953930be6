// Package logsink writes processed log entries to the service log.
package logsink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
)

type sink struct {
	log zerolog.Logger
}

// New returns a ports.LogSink that emits one "Processed Message" record per
// entry with the consumed payload embedded as raw JSON.
func New(log zerolog.Logger) ports.LogSink {
	return &sink{log: log.With().Str("component", "consumer").Logger()}
}

func (s *sink) Write(_ context.Context, entry *domain.ProcessedLogEntry) error {
	s.log.Info().
		Time("timestamp", entry.Timestamp).
		Str("topic", entry.Topic).
		RawJSON("data", entry.Data).
		Str("processed_by", entry.ProcessedBy).
		Int32("partition", entry.Partition).
		Int64("offset", entry.Offset).
		Msg("Processed Message")
	return nil
}
