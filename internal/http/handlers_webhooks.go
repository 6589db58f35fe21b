package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	"github.com/fortify-rocks/fix-agent/internal/service"
)

// Webhook delivery headers as sent by GitHub, plus the registration id
// header added by the provisioning proxy.
const (
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerWebhookID = "X-Webhook-Id"
)

// WebhookHandlers provides HTTP handlers for inbound webhook deliveries.
type WebhookHandlers struct {
	Svc *service.WebhookService
}

// GitHubWebhook ingests one GitHub delivery. The raw body is read before
// any JSON work because signature verification covers the exact bytes on
// the wire.
func (h *WebhookHandlers) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_body",
			Err: errors.New("failed to read request body"),
		})
		return
	}

	event, err := h.Svc.Process(r.Context(), service.WebhookDelivery{
		DeliveryID: r.Header.Get(headerDelivery),
		EventType:  r.Header.Get(headerEvent),
		WebhookID:  r.Header.Get(headerWebhookID),
		Signature:  r.Header.Get(headerSignature),
		Body:       body,
	})
	if errors.Is(err, model.ErrDuplicateDelivery) {
		WriteJSON(w, http.StatusOK, webhookResponse(event, true))
		return
	}
	if err != nil {
		// The audit record, when one was written, already carries the
		// failure detail; the sender only needs the status.
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, webhookResponse(event, false))
}

func webhookResponse(event *model.WebhookEvent, duplicate bool) map[string]any {
	resp := map[string]any{
		"id":      event.ID,
		"status":  event.Status,
		"outcome": event.Outcome,
	}
	if event.JobID != nil {
		resp["job_id"] = *event.JobID
	}
	if duplicate {
		resp["duplicate"] = true
	}
	return resp
}
