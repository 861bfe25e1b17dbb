// Package webhook posts a signed summary of each sync pass to an HTTP
// endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/offsync/internal/sync"
)

// Header names set on every dispatch.
const (
	HeaderTimestamp = "X-Offsync-Timestamp"
	HeaderSignature = "X-Offsync-Signature"
)

// Payload is the webhook POST body.
type Payload struct {
	Server    string        `json:"server"`
	UserID    int64         `json:"user_id,omitempty"`
	Timestamp string        `json:"timestamp"`
	Report    ReportPayload `json:"report"`
	// Pending counts the entries still dirty after the pass, by collection.
	Pending map[string]int `json:"pending,omitempty"`
}

// ReportPayload mirrors sync.Report with the error flattened to a string.
type ReportPayload struct {
	Count     int    `json:"count"`
	Done      int    `json:"done"`
	Failed    int    `json:"failed"`
	Conflicts int    `json:"conflicts"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// BuildPayload converts a finished pass into a webhook payload.
func BuildPayload(server string, userID int64, rep sync.Report, pending map[string]int) Payload {
	p := Payload{
		Server:    server,
		UserID:    userID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Report: ReportPayload{
			Count:     rep.Count,
			Done:      rep.Done,
			Failed:    rep.Failed,
			Conflicts: rep.Conflicts,
			Skipped:   rep.Skipped,
		},
		Pending: pending,
	}
	if rep.Err != nil {
		p.Report.Error = rep.Err.Error()
	}
	return p
}

// Sign returns the signature header value for body sent at unixTS.
func Sign(secret, unixTS string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unixTS))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "offsync-webhook/1")

	unixTS := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, unixTS)
	if secret != "" {
		req.Header.Set(HeaderSignature, Sign(secret, unixTS, body))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}
