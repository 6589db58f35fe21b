package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	"github.com/fortify-rocks/fix-agent/internal/service"
)

const webhookTestSecret = "test-webhook-secret"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushPayload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"ref":   "refs/heads/main",
		"after": "4f2d8ab90c1e55aa0f1b3c6d7e8f9a0b1c2d3e4f",
		"repository": map[string]any{
			"full_name": "acme/app",
			"clone_url": "https://github.com/acme/app.git",
		},
		"sender": map[string]any{"login": "octocat"},
	})
	require.NoError(t, err)
	return body
}

func newWebhookRouter(t *testing.T, queue *stubQueue, repo *stubWebhookRepo) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.NewWebhookService(service.WebhookServiceOptions{
		Events: repo,
		Jobs:   queue,
		Secret: webhookTestSecret,
		Logger: logger,
	})
	require.NoError(t, err)

	handler, err := NewRouter(RouterOptions{
		Jobs:     queue,
		Webhooks: svc,
		Logger:   logger,
	})
	require.NoError(t, err)
	return handler
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(headerSignature, signature)
	req.Header.Set(headerEvent, "push")
	req.Header.Set(headerDelivery, "delivery-1")
	req.Header.Set(headerWebhookID, "hook-1")
	return req
}

func TestGitHubWebhookEnqueuesScanJob(t *testing.T) {
	queue := newStubQueue()
	repo := newStubWebhookRepo()
	repo.addMapping("hook-1", "tenant-1")
	router := newWebhookRouter(t, queue, repo)

	body := pushPayload(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(body, signBody(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(model.WebhookStatusCompleted), resp["status"])
	assert.Equal(t, model.WebhookOutcomeJobEnqueued, resp["outcome"])
	require.Contains(t, resp, "job_id")

	job, err := queue.Get(context.Background(), resp["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.JobTypeScanRepository, job.Type)
	assert.Equal(t, "tenant-1", queue.tenants[job.ID])
}

func TestGitHubWebhookDuplicateDelivery(t *testing.T) {
	queue := newStubQueue()
	repo := newStubWebhookRepo()
	repo.addMapping("hook-1", "tenant-1")
	router := newWebhookRouter(t, queue, repo)

	body := pushPayload(t)
	first := httptest.NewRecorder()
	router.ServeHTTP(first, webhookRequest(body, signBody(body)))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, webhookRequest(body, signBody(body)))

	require.Equal(t, http.StatusOK, second.Code)
	var resp map[string]any
	decodeBody(t, second, &resp)
	assert.Equal(t, true, resp["duplicate"])
}

func TestGitHubWebhookBadSignature(t *testing.T) {
	queue := newStubQueue()
	repo := newStubWebhookRepo()
	repo.addMapping("hook-1", "tenant-1")
	router := newWebhookRouter(t, queue, repo)

	body := pushPayload(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(body, "sha256=deadbeef"))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "unauthorized", resp["error"])
	// Nothing was recorded or enqueued for a forged delivery.
	assert.Empty(t, repo.events)
	assert.Empty(t, queue.jobs)
}

func TestGitHubWebhookUnmappedHookRecordsFailure(t *testing.T) {
	queue := newStubQueue()
	repo := newStubWebhookRepo()
	router := newWebhookRouter(t, queue, repo)

	body := pushPayload(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(body, signBody(body)))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	event, err := repo.GetEventByDeliveryID(context.Background(), "delivery-1")
	require.NoError(t, err)
	assert.Equal(t, model.WebhookStatusFailed, event.Status)
	assert.Empty(t, queue.jobs)
}

func TestGitHubWebhookIgnoredEvent(t *testing.T) {
	queue := newStubQueue()
	repo := newStubWebhookRepo()
	repo.addMapping("hook-1", "tenant-1")
	router := newWebhookRouter(t, queue, repo)

	body := pushPayload(t)
	req := webhookRequest(body, signBody(body))
	req.Header.Set(headerEvent, "issues")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, model.WebhookOutcomeIgnored, resp["outcome"])
	assert.Empty(t, queue.jobs)
}
