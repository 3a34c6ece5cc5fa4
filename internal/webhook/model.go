package webhook

import (
	"slices"

	"github.com/sydlexius/alldbs/internal/event"
)

// Webhook is a configured receiver of database lifecycle events.
type Webhook struct {
	Name string
	URL  string
	// Events filters deliveries by event type. Empty means every event.
	Events []string
}

// Wants reports whether w should receive events of type t.
func (w Webhook) Wants(t event.Type) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, string(t))
}

// payload is the JSON body of a delivery.
type payload struct {
	Event      string         `json:"event"`
	Key        string         `json:"key,omitempty"`
	Adapter    string         `json:"adapter,omitempty"`
	Timestamp  string         `json:"timestamp"`
	DeliveryID string         `json:"delivery_id"`
	Data       map[string]any `json:"data,omitempty"`
}
