// Package watch detects and broadcasts content changes: it polls a
// snapshot source, fingerprints each item, classifies observed state
// transitions into typed events, and fans them out to registered
// handlers. It exists for consumers that cannot receive a real push
// channel, so every event here is synthesized from observation.
package watch

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventCreated   EventType = "content.created"
	EventUpdated   EventType = "content.updated"
	EventPublished EventType = "content.published"
	EventDeleted   EventType = "content.deleted"
)

var knownEventTypes = map[EventType]struct{}{
	EventCreated:   {},
	EventUpdated:   {},
	EventPublished: {},
	EventDeleted:   {},
}

// Event is the wire payload delivered to webhook consumers and emitted
// on the internal bus. Slug is optional; everything else is required.
type Event struct {
	Event      EventType `json:"event"`
	SiteID     string    `json:"site_id"`
	Collection string    `json:"collection"`
	Slug       string    `json:"slug,omitempty"`
	ItemID     string    `json:"item_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e Event) Validate() error {
	if _, ok := knownEventTypes[e.Event]; !ok {
		return fmt.Errorf("unknown event type %q", e.Event)
	}
	if e.SiteID == "" {
		return fmt.Errorf("missing site_id")
	}
	if e.Collection == "" {
		return fmt.Errorf("missing collection")
	}
	if e.ItemID == "" {
		return fmt.Errorf("missing item_id")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// ParseEvent decodes and validates an inbound webhook body. The payload
// is rejected before any handler sees it if a required field is absent
// or the event literal is not one of the four known types.
func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event payload: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event payload: %w", err)
	}
	return evt, nil
}
