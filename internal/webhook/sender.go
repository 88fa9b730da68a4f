// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/metrics"
)

const (
	maxAttempts = 4

	// maxMessageLength is Discord's content limit with headroom for the
	// truncation marker.
	maxMessageLength = 1900

	retryAfterMin = 1 * time.Second
	retryAfterMax = 30 * time.Second
)

// trimMessage caps content at maxMessageLength, marking the cut.
func trimMessage(content string) string {
	if len(content) <= maxMessageLength {
		return content
	}
	return content[:maxMessageLength-3] + "..."
}

// deliver posts one message with retry. Rate limits honor the server's
// Retry-After hint clamped to [1s, 30s]; 5xx and transport errors back
// off linearly by attempt number; any other status fails permanently.
func (d *Dispatcher) deliver(ctx context.Context, st *instanceState, t task) {
	content := trimMessage(t.message)
	if t.url == "" || content == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		st.noteFailure(t.eventType, err.Error(), 0, false)
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err := d.post(ctx, t.url, body)
		if err != nil {
			if attempt < maxAttempts {
				if !sleepCtx(ctx, time.Duration(attempt)*time.Second) {
					return
				}
				continue
			}
			logging.Warn().Err(err).Int64("instance", st.id).Str("event", t.eventType).
				Msg("webhook delivery failed after retries")
			st.noteFailure(t.eventType, err.Error(), 0, false)
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			return
		}

		switch {
		case status >= 200 && status < 300:
			st.noteSuccess(t.eventType)
			metrics.WebhookDeliveries.WithLabelValues("sent").Inc()
			return

		case status == http.StatusTooManyRequests:
			metrics.WebhookDeliveries.WithLabelValues("rate_limited").Inc()
			if attempt < maxAttempts {
				if !sleepCtx(ctx, clampRetryAfter(retryAfterHint(respBody))) {
					return
				}
				continue
			}
			st.noteFailure(t.eventType, truncate(respBody.text, 200), status, true)
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			return

		case status >= 500 && attempt < maxAttempts:
			if !sleepCtx(ctx, time.Duration(attempt)*time.Second) {
				return
			}
			continue

		default:
			logging.Warn().Int64("instance", st.id).Int("status", status).
				Str("event", t.eventType).Msg("webhook delivery rejected")
			msg := truncate(respBody.text, 200)
			if msg == "" {
				msg = "HTTP " + strconv.Itoa(status)
			}
			st.noteFailure(t.eventType, msg, status, false)
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			return
		}
	}
}

// responseBody carries the drained body plus the Retry-After header so
// retry hints survive past resp.Body.Close.
type responseBody struct {
	text       string
	retryAfter string
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, responseBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, responseBody{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, responseBody{}, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, responseBody{
		text:       string(data),
		retryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

// retryAfterHint extracts the wait from the Retry-After header, falling
// back to the retry_after field rate-limit responses carry in the body.
func retryAfterHint(body responseBody) time.Duration {
	if body.retryAfter != "" {
		if secs, err := strconv.ParseFloat(body.retryAfter, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var parsed struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal([]byte(body.text), &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}
	return 0
}

func clampRetryAfter(d time.Duration) time.Duration {
	if d < retryAfterMin {
		return retryAfterMin
	}
	if d > retryAfterMax {
		return retryAfterMax
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sleepCtx sleeps for d unless ctx is canceled first. Reports whether
// the full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
