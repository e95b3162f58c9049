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

// CatalogRepository keeps event metadata and organizer ownership. Ticket
// inventory lives in CockroachDB; this collection is read for titles and
// staff authorization.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Venue       string    `bson:"venue"`
	StartsAt    time.Time `bson:"starts_at"`
	OrganizerID string    `bson:"organizer_id"`
	CreatedAt   time.Time `bson:"created_at"`
}

func toEventDoc(e domain.Event) EventDoc {
	return EventDoc{
		ID:          e.ID.String(),
		Title:       e.Title,
		Venue:       e.Venue,
		StartsAt:    e.StartsAt,
		OrganizerID: e.OrganizerID,
		CreatedAt:   e.CreatedAt,
	}
}

func (d EventDoc) toDomain() (domain.Event, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "event id %q", d.ID)
	}
	return domain.Event{
		ID:          id,
		Title:       d.Title,
		Venue:       d.Venue,
		StartsAt:    d.StartsAt,
		OrganizerID: d.OrganizerID,
		CreatedAt:   d.CreatedAt,
	}, nil
}

// EnsureIndexes creates the organizer lookup index.
func (c *CatalogRepository) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "organizer_id", Value: 1}, {Key: "starts_at", Value: 1}},
		Options: options.Index().SetName("organizer_starts_at"),
	})
	return errors.Wrap(err, "create catalog index")
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	var doc EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Event{}, errors.Wrapf(domain.ErrEventNotFound, "id %s", id)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get event")
		return domain.Event{}, errors.Wrap(err, "find event")
	}
	return doc.toDomain()
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, e domain.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := c.coll.InsertOne(ctx, toEventDoc(e))
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(domain.ErrConflict, "event %s exists", e.ID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to create event")
		return errors.Wrap(err, "insert event")
	}
	return nil
}

// ListByOrganizer returns the organizer's events ordered by start time.
func (c *CatalogRepository) ListByOrganizer(ctx context.Context, organizerID string) ([]domain.Event, error) {
	cur, err := c.coll.Find(ctx, bson.M{"organizer_id": organizerID},
		options.Find().SetSort(bson.D{{Key: "starts_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find events")
	}
	var docs []EventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode events")
	}
	out := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		e, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
