package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// deliveryPayload is the JSON body POSTed to a subscriber's webhook URL
// (spec §4.8).
type deliveryPayload struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// WebhookSender delivers a single Webhook Delivery attempt via outbound
// HTTP POST, signing the body with HMAC-SHA256 when a secret is present.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender returns a WebhookSender using cfg's HTTP timeout.
func NewWebhookSender(cfg Config) *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: cfg.Timeout}}
}

// Deliver POSTs `{jobId, status: "completed", timestamp}` to url, signing
// the body with secret when non-empty. A non-2xx response or transport
// error both return ErrSendFailed; the caller (the webhook retry sweep)
// is responsible for the attempts/maxAttempts bookkeeping.
func (s *WebhookSender) Deliver(ctx context.Context, url string, secret string, jobID uuid.UUID) error {
	data, err := json.Marshal(deliveryPayload{
		JobID:     jobID.String(),
		Status:    "completed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %s", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request: %s", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Timetablex-Webhook/1.0")

	if secret != "" {
		req.Header.Set("X-Timetablex-Signature", "sha256="+hmacSHA256(data, secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: non-2xx status %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// hmacSHA256 computes an HMAC-SHA256 signature of data using secret,
// returned as a lowercase hex string.
func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
