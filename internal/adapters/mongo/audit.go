package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger stores every emitted notification in the audit_logs collection.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Topic     string    `bson:"topic"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, topic string, data bson.M) error {
	log := AuditLog{
		ID:        uuid.New().String(),
		Topic:     topic,
		Timestamp: time.Now(),
		Data:      data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

// Emit satisfies domain.NotificationSink. It blocks on the insert, so wire it
// behind notify.Async.
func (a *AuditLogger) Emit(ctx context.Context, topic string, payload any) {
	data := bson.M{}
	raw, err := json.Marshal(payload)
	if err == nil {
		err = json.Unmarshal(raw, &data)
	}
	if err != nil {
		a.logger.WithField("topic", topic).WithError(err).Warn("audit payload not serializable")
		data = bson.M{"raw": string(raw)}
	}
	_ = a.LogEvent(ctx, topic, data)
}
