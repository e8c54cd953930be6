package domain

import (
	"encoding/json"
	"time"
)

// Topics the service publishes to and consumes from.
const (
	TopicUserActivity    = "user-activity"
	TopicDatabaseChanges = "database-changes"
)

// Topics returns the fixed subscription set in publish order.
func Topics() []string {
	return []string{TopicUserActivity, TopicDatabaseChanges}
}

const (
	ActionLogin     = "login"
	OperationInsert = "INSERT"
	TableUserTokens = "user_tokens"

	// ProcessedByConsumer tags every entry produced by the in-process subscriber.
	ProcessedByConsumer = "integrated-consumer"
)

// ActivityEvent is published to TopicUserActivity when a user acts on the system.
type ActivityEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	UserID        int64     `json:"user_id"`
	Action        string    `json:"action"`
	SourceAddress string    `json:"source_address"`
}

// DatabaseChangeEvent is published to TopicDatabaseChanges whenever a row
// owned by this service is written.
type DatabaseChangeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Table     string    `json:"table"`
	UserID    int64     `json:"user_id"`
}

// ProcessedLogEntry is the terminal artifact of the audit pipeline: one per
// consumed message. Data holds the consumed payload unchanged.
type ProcessedLogEntry struct {
	Timestamp   time.Time       `json:"timestamp" bson:"timestamp"`
	Topic       string          `json:"topic" bson:"topic"`
	Data        json.RawMessage `json:"data" bson:"-"`
	ProcessedBy string          `json:"processed_by" bson:"processed_by"`
	Partition   int32           `json:"partition,omitempty" bson:"partition"`
	Offset      int64           `json:"offset,omitempty" bson:"offset"`
}
