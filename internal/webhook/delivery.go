package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultRetryBase       = time.Second
	DefaultRetryMult       = 2.0
	DefaultRetryMax        = 60 * time.Second
	DefaultMaxRetries      = 3
	maxTruncatedBody       = 500
)

// DeliveryConfig bounds one delivery's retry behavior.
type DeliveryConfig struct {
	Timeout    time.Duration
	RetryBase  time.Duration
	RetryMult  float64
	RetryMax   time.Duration
	MaxRetries int
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		Timeout: DefaultDeliveryTimeout, RetryBase: DefaultRetryBase,
		RetryMult: DefaultRetryMult, RetryMax: DefaultRetryMax, MaxRetries: DefaultMaxRetries,
	}
}

// newBackOff builds the cenkalti/backoff policy matching
// min(base*mult^(attempt-1), cap), capped at MaxRetries retries (so at
// most MaxRetries+1 attempts).
func newBackOff(cfg DeliveryConfig) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.RetryBase,
		RandomizationFactor: 0,
		Multiplier:          cfg.RetryMult,
		MaxInterval:         cfg.RetryMax,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
}

// Deliver POSTs event to sub's URL, retrying on 5xx/timeout/network
// error and abandoning immediately on 4xx, per spec.md §4.I.
func Deliver(ctx context.Context, client *http.Client, sub *Subscription, event Event, cfg DeliveryConfig) DeliveryResult {
	result := DeliveryResult{WebhookID: sub.ID, EventID: event.EventID, URL: sub.URL, CreatedAt: time.Now()}

	payload := map[string]any{
		"event_type": string(event.EventType),
		"event_id":   event.EventID,
		"timestamp":  event.Timestamp,
		"source":     event.Source,
		"data":       event.Data,
		"metadata":   event.Metadata,
	}
	if sub.HasSecret {
		sig, err := sign(payload, sub.SigningSecret)
		if err == nil {
			payload["signature"] = sig
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		result.FinalStatus = StatusFailed
		result.Attempts = append(result.Attempts, Attempt{AttemptNumber: 1, Timestamp: time.Now(), Error: err.Error()})
		result.CompletedAt = time.Now()
		return result
	}

	attemptNum := 0
	bo := newBackOff(cfg)
	operation := func() error {
		attemptNum++
		attemptStart := time.Now()

		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			result.Attempts = append(result.Attempts, Attempt{AttemptNumber: attemptNum, Timestamp: attemptStart, Error: err.Error()})
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Veris-Memory-MCP-Server/1.0")
		req.Header.Set("X-Webhook-Delivery", event.EventID)
		for k, v := range sub.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		elapsed := time.Since(attemptStart).Milliseconds()
		if err != nil {
			result.Attempts = append(result.Attempts, Attempt{
				AttemptNumber: attemptNum, Timestamp: attemptStart, ResponseTimeMs: elapsed, Error: err.Error(),
			})
			return err // network error or timeout: retryable
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxTruncatedBody+1))
		truncated := string(respBody)
		if len(truncated) > maxTruncatedBody {
			truncated = truncated[:maxTruncatedBody]
		}

		attempt := Attempt{
			AttemptNumber: attemptNum, Timestamp: attemptStart, StatusCode: resp.StatusCode,
			ResponseTimeMs: elapsed, ResponseBodyTruncated: truncated,
		}
		result.Attempts = append(result.Attempts, attempt)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("webhook: abandoned on status %d", resp.StatusCode))
		default:
			return fmt.Errorf("webhook: retryable status %d", resp.StatusCode)
		}
	}

	err = backoff.Retry(operation, bo)

	result.CompletedAt = time.Now()
	result.TotalDurationMs = result.CompletedAt.Sub(result.CreatedAt).Milliseconds()

	switch {
	case err == nil:
		result.FinalStatus = StatusSuccess
	case isPermanentStatus(result):
		result.FinalStatus = StatusAbandoned
	default:
		result.FinalStatus = StatusFailed
	}
	return result
}

// isPermanentStatus checks whether the last recorded attempt carried a
// 4xx status, the observable signal of an abandoned delivery (the
// backoff library unwraps its own PermanentError before returning it,
// so the status code on the attempt log is the reliable source).
func isPermanentStatus(result DeliveryResult) bool {
	if len(result.Attempts) == 0 {
		return false
	}
	last := result.Attempts[len(result.Attempts)-1]
	return last.StatusCode >= 400 && last.StatusCode < 500
}
