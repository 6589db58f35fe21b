package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
	"github.com/fortify-rocks/fix-agent/internal/testutil"
)

func setupRepoDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return testutil.SetupTestDB(t)
}

func insertMapping(t *testing.T, db *sql.DB, webhookID, tenantID string) string {
	t.Helper()
	var id string
	err := db.QueryRow(`
		INSERT INTO webhook_mappings (webhook_id, tenant_id, project_id, repository_name)
		VALUES ($1, $2, 'proj-1', 'acme/app')
		RETURNING id::text`,
		webhookID, tenantID,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestWebhookRepo_CreateAndGetEvent(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewWebhookRepo(db)
	ctx := context.Background()

	mappingID := insertMapping(t, db, "wh-1", "tenant-1")

	event := &model.WebhookEvent{
		DeliveryID:         "delivery-1",
		EventType:          "pull_request",
		EventAction:        "opened",
		TenantMappingID:    mappingID,
		RepositoryFullName: "acme/app",
		Payload:            []byte(`{"action":"opened"}`),
	}
	require.NoError(t, repo.CreateEvent(ctx, event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())

	loaded, err := repo.GetEventByDeliveryID(ctx, "delivery-1")
	require.NoError(t, err)
	assert.Equal(t, event.ID, loaded.ID)
	assert.Equal(t, model.WebhookStatusPending, loaded.Status)
	assert.Equal(t, mappingID, loaded.TenantMappingID)
	assert.Nil(t, loaded.ProcessedAt)
}

func TestWebhookRepo_GetEventNotFound(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewWebhookRepo(db)

	_, err := repo.GetEventByDeliveryID(context.Background(), "delivery-unknown")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestWebhookRepo_DuplicateDelivery(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewWebhookRepo(db)
	ctx := context.Background()

	event := &model.WebhookEvent{
		DeliveryID: "delivery-dup",
		EventType:  "push",
	}
	require.NoError(t, repo.CreateEvent(ctx, event))

	again := &model.WebhookEvent{
		DeliveryID: "delivery-dup",
		EventType:  "push",
	}
	err := repo.CreateEvent(ctx, again)
	assert.ErrorIs(t, err, ErrDuplicateDelivery)
}

func TestWebhookRepo_UpdateEventStatus(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewWebhookRepo(db)
	ctx := context.Background()

	event := &model.WebhookEvent{DeliveryID: "delivery-2", EventType: "push"}
	require.NoError(t, repo.CreateEvent(ctx, event))

	require.NoError(t, repo.UpdateEventStatus(ctx, event.ID, model.WebhookEventUpdate{
		Status: model.WebhookStatusProcessing,
	}))
	loaded, err := repo.GetEventByDeliveryID(ctx, "delivery-2")
	require.NoError(t, err)
	assert.Equal(t, model.WebhookStatusProcessing, loaded.Status)
	assert.Nil(t, loaded.ProcessedAt)

	jobID := "job-42"
	require.NoError(t, repo.UpdateEventStatus(ctx, event.ID, model.WebhookEventUpdate{
		Status:  model.WebhookStatusCompleted,
		Outcome: model.WebhookOutcomeJobEnqueued,
		JobID:   &jobID,
	}))
	loaded, err = repo.GetEventByDeliveryID(ctx, "delivery-2")
	require.NoError(t, err)
	assert.Equal(t, model.WebhookStatusCompleted, loaded.Status)
	assert.Equal(t, model.WebhookOutcomeJobEnqueued, loaded.Outcome)
	require.NotNil(t, loaded.JobID)
	assert.Equal(t, "job-42", *loaded.JobID)
	assert.NotNil(t, loaded.ProcessedAt)

	err = repo.UpdateEventStatus(ctx, event.ID, model.WebhookEventUpdate{Status: "BOGUS"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestWebhookRepo_GetMapping(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewWebhookRepo(db)
	ctx := context.Background()

	insertMapping(t, db, "wh-active", "tenant-2")

	mapping, err := repo.GetMappingByWebhookID(ctx, "wh-active")
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", mapping.TenantID)
	assert.True(t, mapping.Active)

	_, err = repo.GetMappingByWebhookID(ctx, "wh-missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = db.Exec(`UPDATE webhook_mappings SET active = false WHERE webhook_id = 'wh-active'`)
	require.NoError(t, err)
	_, err = repo.GetMappingByWebhookID(ctx, "wh-active")
	assert.True(t, apperrors.IsNotFound(err))
}
