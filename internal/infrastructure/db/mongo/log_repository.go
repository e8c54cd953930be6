package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
)

const processedLogsCollection = "processed_logs"

// ClientSource hands out the current MongoDB client.
type ClientSource interface {
	Get() (*mongo.Client, error)
}

// LogRepository implements ports.LogSink by inserting one document per
// processed message into the processed_logs collection.
type LogRepository struct {
	client   ClientSource
	database string
}

func NewLogRepository(client ClientSource, database string) ports.LogSink {
	return &LogRepository{client: client, database: database}
}

func (r *LogRepository) Write(ctx context.Context, entry *domain.ProcessedLogEntry) error {
	client, err := r.client.Get()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = client.Database(r.database).
		Collection(processedLogsCollection).
		InsertOne(ctx, toDocument(entry))
	if err != nil {
		return fmt.Errorf("insert processed log: %w", err)
	}
	return nil
}

// toDocument stores the payload as a nested document when it is a JSON
// object and as its raw text otherwise.
func toDocument(entry *domain.ProcessedLogEntry) bson.M {
	doc := bson.M{
		"timestamp":    entry.Timestamp.UTC(),
		"topic":        entry.Topic,
		"processed_by": entry.ProcessedBy,
		"partition":    entry.Partition,
		"offset":       entry.Offset,
	}

	var data bson.M
	if err := bson.UnmarshalExtJSON(entry.Data, false, &data); err == nil {
		doc["data"] = data
	} else {
		doc["data"] = string(entry.Data)
	}
	return doc
}
