package mongo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newDatabase(t *testing.T) *driver.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := driver.Connect(ctx, options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("ticketing_test")
}

func TestMongoAdapters(t *testing.T) {
	db := newDatabase(t)
	ctx := context.Background()
	logger := observability.Discard()

	t.Run("catalog", func(t *testing.T) {
		catalog := mongo.NewCatalogRepository(db, logger)
		require.NoError(t, catalog.EnsureIndexes(ctx))

		ev := domain.Event{
			ID: uuid.New(), Title: "Closing night", Venue: "Foro Sol",
			StartsAt: time.Now().Add(48 * time.Hour).UTC().Truncate(time.Millisecond), OrganizerID: "org-1",
		}
		require.NoError(t, catalog.CreateEvent(ctx, ev))
		assert.True(t, errors.Is(catalog.CreateEvent(ctx, ev), domain.ErrConflict))

		got, err := catalog.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, ev.Title, got.Title)
		assert.Equal(t, "org-1", got.OrganizerID)
		assert.True(t, ev.StartsAt.Equal(got.StartsAt))

		_, err = catalog.GetEvent(ctx, uuid.New())
		assert.True(t, errors.Is(err, domain.ErrEventNotFound))

		list, err := catalog.ListByOrganizer(ctx, "org-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("check-in mirror is idempotent", func(t *testing.T) {
		audit := mongo.NewAuditLogger(db, logger)
		c := domain.CheckIn{
			ID: uuid.New(), TicketID: uuid.New(), EventID: uuid.New(),
			CheckedInBy: "gate-3", Method: domain.CheckInQR, CheckedInAt: time.Now().UTC(),
		}
		require.NoError(t, audit.LogCheckIn(ctx, c, "TKT-ABCDEF123456"))
		require.NoError(t, audit.LogCheckIn(ctx, c, "TKT-ABCDEF123456"))

		logs, err := audit.CheckInsByEvent(ctx, c.EventID, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "gate-3", logs[0].Actor)
		assert.Equal(t, "TKT-ABCDEF123456", logs[0].Data["ticket_number"])
	})

	t.Run("organizer actions stay out of the check-in mirror", func(t *testing.T) {
		audit := mongo.NewAuditLogger(db, logger)
		eventID := uuid.New()
		require.NoError(t, audit.LogEvent(ctx, "ticket_type.created", "org-1", eventID, map[string]interface{}{"capacity_total": 100}))

		n, err := db.Collection("audit_logs").CountDocuments(ctx, bson.M{"event_id": eventID.String(), "action": "ticket_type.created"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		logs, err := audit.CheckInsByEvent(ctx, eventID, 0)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}
