package ports

import (
	"context"
	"time"

	"github.com/99minutos/authstream/internal/core/domain"
)

// Message is a consumed broker record, decoupled from the client library.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// AuditService turns consumed messages into processed log entries.
type AuditService interface {
	Process(ctx context.Context, msg Message) error
}

// LogSink receives processed log entries.
type LogSink interface {
	Write(ctx context.Context, entry *domain.ProcessedLogEntry) error
}

// MessageDedup remembers which broker records were already processed so
// redeliveries can be skipped.
type MessageDedup interface {
	IsDuplicate(ctx context.Context, topic string, partition int32, offset int64) (bool, error)
	Mark(ctx context.Context, topic string, partition int32, offset int64) error
}
