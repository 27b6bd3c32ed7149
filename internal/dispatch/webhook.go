package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-consensus/internal/models"
)

// WebhookSender posts notification JSON to a downstream delivery
// endpoint (push provider, email bridge). Used by the notifier binary.
type WebhookSender struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookSender(endpoint string) *WebhookSender {
	return &WebhookSender{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookSender) Deliver(ctx context.Context, n models.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
