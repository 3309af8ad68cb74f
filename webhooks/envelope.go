package webhooks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/roadpay/roadpay/core"
)

// Event is the decoded provider envelope. Data carries the affected
// resource object and PreviousAttributes the fields that changed on
// update notifications.
type Event struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Created            time.Time      `json:"-"`
	Data               map[string]any `json:"-"`
	PreviousAttributes map[string]any `json:"-"`
}

type eventEnvelope struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Created int64        `json:"created"`
	Data    envelopeData `json:"data"`
}

type envelopeData struct {
	Object             map[string]any `json:"object"`
	PreviousAttributes map[string]any `json:"previous_attributes"`
}

// ParseEvent decodes a raw payload into an Event. Payloads that are
// not JSON objects or that omit the event id or type are rejected.
func ParseEvent(payload []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, core.NewInvalidPayloadError("payload is not valid JSON")
	}

	envelope.ID = strings.TrimSpace(envelope.ID)
	envelope.Type = strings.TrimSpace(envelope.Type)

	if envelope.ID == "" {
		return Event{}, core.NewInvalidPayloadError("event id is required")
	}

	if envelope.Type == "" {
		return Event{}, core.NewInvalidPayloadError("event type is required")
	}

	event := Event{
		ID:                 envelope.ID,
		Type:               envelope.Type,
		Data:               envelope.Data.Object,
		PreviousAttributes: envelope.Data.PreviousAttributes,
	}

	if envelope.Created > 0 {
		event.Created = time.Unix(envelope.Created, 0).UTC()
	}

	if event.Data == nil {
		event.Data = map[string]any{}
	}

	return event, nil
}

// Object returns the string value of a field on the event's resource
// object, or an empty string when missing or not a string.
func (e Event) Object(field string) string {
	value, _ := e.Data[field].(string)
	return value
}

// PreviousAttribute returns the string value a field held before the
// update that produced this event.
func (e Event) PreviousAttribute(field string) string {
	value, _ := e.PreviousAttributes[field].(string)
	return value
}

// HasPreviousAttribute reports whether the update changed the given
// field, regardless of the old value's type.
func (e Event) HasPreviousAttribute(field string) bool {
	_, found := e.PreviousAttributes[field]
	return found
}
