package relay

import (
	"encoding/json"
	"time"
)

// Header names recognized by the broker skeleton and backend adapters.
// Backends may translate these to native metadata fields (routing key ->
// topic, queue URL, subject, partition key).
const (
	HeaderRoutingKey        = "relay.routing_key"
	HeaderMessageGroupID    = "relay.message_group_id"
	HeaderDeduplicationID   = "relay.deduplication_id"
	HeaderCompressionAlgo   = "relay.compression_algorithm"
	HeaderCorrelationID     = "relay.correlation_id"
	HeaderPublishedAtMillis = "relay.published_at_ms"
	HeaderMessageType       = "relay.message_type"
)

// Headers is the backend-agnostic, string-keyed bag of routing metadata
// carried alongside a message. Values are primitives (string, number,
// bool).
type Headers map[string]any

// Get returns a header's string form, or "" when absent.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	v, ok := h[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set assigns a header, allocating the map on first use.
func (h *Headers) Set(key string, value any) {
	if *h == nil {
		*h = make(Headers)
	}
	(*h)[key] = value
}

// Clone returns a shallow copy safe for independent mutation.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Envelope is a backend-agnostic wire representation of a message. The
// broker skeleton does not build one: it passes the body and headers to
// backend adapters separately on publish and receive. It generalizes the MessageEnvelope in
// internal/single/messaging/message.go from a single-connection
// sequence/priority envelope to a backend-agnostic header set.
type Envelope struct {
	// MessageType is the simple or fully-qualified type tag the caller's
	// static type was resolved to.
	MessageType string `json:"type"`

	// PublishedAtUnixMilli is the server-side publish timestamp.
	PublishedAtUnixMilli int64 `json:"ts"`

	// Headers carries routing metadata; see the Header* constants.
	Headers Headers `json:"headers,omitempty"`

	// Compressed is true when Payload holds compressed bytes; the
	// compression algorithm tag lives in Headers[HeaderCompressionAlgo].
	Compressed bool `json:"compressed,omitempty"`

	// Payload is the serialized (and optionally compressed) message body.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps already-serialized payload bytes, tagged with
// messageType and stamped with the current time. It does not compress
// the payload.
func NewEnvelope(messageType string, payload []byte, headers Headers) *Envelope {
	return &Envelope{
		MessageType:          messageType,
		PublishedAtUnixMilli: time.Now().UnixMilli(),
		Headers:              headers,
		Payload:              json.RawMessage(payload),
	}
}

// Marshal serializes the envelope itself to bytes for backends that want
// a single opaque blob (e.g. a stream-in-store event body).
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope parses bytes produced by Marshal.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, InvalidData("malformed envelope", err)
	}
	return &e, nil
}
