package webhook

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
	"github.com/hashicorp/go-retryablehttp"

	"github.com/sydlexius/alldbs/internal/event"
)

const (
	maxAttempts    = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher sends lifecycle events to matching webhooks.
type Dispatcher struct {
	webhooks []Webhook
	client   *retryablehttp.Client
	logger   *slog.Logger
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(webhooks []Webhook, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(webhooks, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(webhooks []Webhook, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	logger = logger.With(slog.String("component", "webhook-dispatcher"))

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = maxAttempts - 1
	rc.Logger = logger
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying webhook delivery",
				"url", req.URL.Redacted(),
				"delivery_id", req.Header.Get("X-Alldbs-Delivery"),
				"attempt", attempt+1,
			)
		}
	}

	d := &Dispatcher{
		webhooks: webhooks,
		client:   rc,
		logger:   logger,
	}
	d.SetBackoff(time.Second)
	return d
}

// SetBackoff overrides the base retry delay (for testing). It must be called
// before events are dispatched.
func (d *Dispatcher) SetBackoff(base time.Duration) {
	d.client.RetryWaitMin = base
	d.client.RetryWaitMax = base << (maxAttempts - 1)
}

// Len returns the number of configured webhooks.
func (d *Dispatcher) Len() int {
	return len(d.webhooks)
}

// HandleEvent is an event.Handler that dispatches e to every matching webhook.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.webhooks {
		w := d.webhooks[i]
		if !w.Wants(e.Type) {
			continue
		}
		go d.deliver(w, e)
	}
}

func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	deliveryID := uuid.New().String()
	body, err := json.Marshal(payload{
		Event:      string(e.Type),
		Key:        e.Key,
		Adapter:    e.Adapter,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		DeliveryID: deliveryID,
		Data:       e.Data,
	})
	if err != nil {
		d.logger.Error("encoding webhook payload", "webhook", w.Name, "error", err)
		return
	}

	if err := d.send(w.URL, deliveryID, body); err != nil {
		d.logger.Error("webhook delivery failed",
			"webhook", w.Name,
			"event", string(e.Type),
			"delivery_id", deliveryID,
			"error", err,
		)
		return
	}
	d.logger.Debug("webhook delivered",
		"webhook", w.Name,
		"event", string(e.Type),
		"delivery_id", deliveryID,
	)
}

// send posts body once through the retrying client. Connection errors, 429
// and 5xx responses are retried; other 4xx responses fail immediately.
func (d *Dispatcher) send(url, deliveryID string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), maxAttempts*requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "alldbs-webhook/1.0")
	req.Header.Set("X-Alldbs-Delivery", deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
