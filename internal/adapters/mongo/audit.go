package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger records organizer actions and mirrors check-ins for
// reporting. The check_ins table in CockroachDB stays authoritative.
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
	Action    string    `bson:"action"`
	Actor     string    `bson:"actor"`
	EventID   string    `bson:"event_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, actor string, eventID uuid.UUID, data map[string]interface{}) error {
	return a.insert(ctx, AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		EventID:   eventID.String(),
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	})
}

// LogCheckIn keys the entry by check-in id so a replay does not duplicate it.
func (a *AuditLogger) LogCheckIn(ctx context.Context, c domain.CheckIn, ticketNumber string) error {
	err := a.insert(ctx, AuditLog{
		ID:        c.ID.String(),
		Action:    "ticket.checked_in",
		Actor:     c.CheckedInBy,
		EventID:   c.EventID.String(),
		Timestamp: c.CheckedInAt,
		Data: bson.M{
			"ticket_id":     c.TicketID.String(),
			"ticket_number": ticketNumber,
			"method":        string(c.Method),
		},
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// CheckInsByEvent returns the mirrored check-ins of an event, newest first.
func (a *AuditLogger) CheckInsByEvent(ctx context.Context, eventID uuid.UUID, limit int64) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx,
		bson.M{"action": "ticket.checked_in", "event_id": eventID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return out, nil
}

func (a *AuditLogger) insert(ctx context.Context, log AuditLog) error {
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		a.logger.WithError(err).WithField("action", log.Action).Error("failed to insert audit log")
	}
	return err
}
