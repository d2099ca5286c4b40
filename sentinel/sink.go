package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RejectionError is a structured sink rejection: the sink (or the local
// schema check) refused the record itself. Retrying the same payload cannot
// succeed, which distinguishes it from transport failures.
type RejectionError struct {
	Field  string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record rejected: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("record rejected: %s", e.Reason)
}

// RecordSink accepts one assembled record per call.
type RecordSink interface {
	Submit(ctx context.Context, fields map[string]any) error
}

// HTTPSink posts records to the central store as flat JSON field maps. A 4xx
// response is surfaced as *RejectionError; anything else non-2xx is a
// transport failure the next run may retry.
type HTTPSink struct {
	URL    string
	Token  string
	client *http.Client
}

func NewHTTPSink(url, token string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSink{
		URL:    url,
		Token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// sinkRejection is the store's structured rejection body.
type sinkRejection struct {
	Error struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (s *HTTPSink) Submit(ctx context.Context, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "health-sentinel")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit record: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var rej sinkRejection
		if json.Unmarshal(body, &rej) == nil && (rej.Error.Field != "" || rej.Error.Reason != "") {
			return &RejectionError{Field: rej.Error.Field, Reason: rej.Error.Reason}
		}
		return &RejectionError{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, compactBody(body))}
	default:
		return fmt.Errorf("sink unavailable: HTTP %d", resp.StatusCode)
	}
}

func compactBody(body []byte) string {
	const max = 512
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}
