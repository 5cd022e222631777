// Package notify submits report messages to the downstream delivery queue.
// Delivery itself is at-least-once and out of scope; consumers deduplicate.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"rank_tracker/internal/apperr"
	"rank_tracker/internal/model"
)

// DefaultDelaySeconds is the visibility delay applied when none is
// configured: a consumer may not claim a message before it elapses.
const DefaultDelaySeconds = 5

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Message is one queue message payload. Keys and values are opaque to the
// queue; ID carries the uuid this dispatcher assigns.
type Message map[string]string

type dispatchRequest struct {
	QueueName              string    `json:"queueName"`
	Messages               []Message `json:"messages"`
	VisibilityDelaySeconds int       `json:"visibilityDelaySeconds"`
}

type dispatchResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// Dispatcher submits message batches to the queue service. A batch is
// atomic from the caller's perspective: either the queue accepts every
// message or the call fails as ErrDispatch and the caller retries the
// whole batch. No partial count is ever reported.
type Dispatcher struct {
	client  HTTPClient
	url     string
	delay   int
	log     *slog.Logger
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher for the queue service at url.
// delaySeconds <= 0 falls back to DefaultDelaySeconds.
func NewDispatcher(client HTTPClient, url string, delaySeconds int, log *slog.Logger) *Dispatcher {
	if delaySeconds <= 0 {
		delaySeconds = DefaultDelaySeconds
	}
	return &Dispatcher{
		client:  client,
		url:     url,
		delay:   delaySeconds,
		log:     log,
		timeout: 15 * time.Second,
	}
}

// Dispatch submits msgs to the named queue as one batch. An empty batch is
// a no-op success.
func (d *Dispatcher) Dispatch(ctx context.Context, queueName string, msgs []Message) error {
	if queueName == "" {
		return fmt.Errorf("dispatch: empty queue name: %w", apperr.ErrValidation)
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := json.Marshal(dispatchRequest{
		QueueName:              queueName,
		Messages:               msgs,
		VisibilityDelaySeconds: d.delay,
	})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch queue %q: %w: %v", queueName, apperr.ErrDispatch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dispatch queue %q: status %d: %w", queueName, resp.StatusCode, apperr.ErrDispatch)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return fmt.Errorf("dispatch queue %q: read reply: %w", queueName, apperr.ErrDispatch)
	}
	var out dispatchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("dispatch queue %q: parse reply: %w", queueName, apperr.ErrDispatch)
	}
	if !out.Success || out.Count != len(msgs) {
		return fmt.Errorf("dispatch queue %q: accepted %d of %d: %w", queueName, out.Count, len(msgs), apperr.ErrDispatch)
	}

	d.log.Info("dispatched batch", "queue", queueName, "count", out.Count)
	return nil
}

// ReportMessages builds one message per target carrying the rendered
// report reference. Each message gets a fresh uuid; the dispatcher never
// deduplicates.
func ReportMessages(targets []model.MessageTarget, reportRef string) []Message {
	msgs := make([]Message, 0, len(targets))
	for _, t := range targets {
		msgs = append(msgs, Message{
			"id":        uuid.NewString(),
			"phone":     t.PhoneNumber,
			"reportRef": reportRef,
		})
	}
	return msgs
}
