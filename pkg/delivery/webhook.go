package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/TryMightyAI/rampart/pkg/httputil"
)

// WebhookDeliverer posts replies to per-channel delivery endpoints over
// HTTP. Each channel provider exposes one URL that accepts the outbound
// payload as JSON and acks with its own message id.
type WebhookDeliverer struct {
	endpoints map[string]string
	client    *http.Client
}

// NewWebhookDeliverer creates a deliverer for the given channel to URL map
func NewWebhookDeliverer(endpoints map[string]string) *WebhookDeliverer {
	return &WebhookDeliverer{
		endpoints: endpoints,
		client:    httputil.MediumClient(),
	}
}

// Deliver posts the payload to the channel's endpoint and returns the
// provider message id from the ack
func (d *WebhookDeliverer) Deliver(ctx context.Context, payload OutboundPayload) (string, error) {
	endpoint, ok := d.endpoints[payload.Channel]
	if !ok {
		return "", fmt.Errorf("no delivery endpoint for channel %q", payload.Channel)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal outbound payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deliver to %s: %w", payload.Channel, err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if err := httputil.CheckResponse(resp, payload.Channel+" delivery"); err != nil {
		return "", err
	}

	var ack struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil || ack.MessageID == "" {
		// An empty ack still gets a generated id so the dedupe record
		// carries one
		return uuid.NewString(), nil
	}
	return ack.MessageID, nil
}

var _ Deliverer = (*WebhookDeliverer)(nil)
