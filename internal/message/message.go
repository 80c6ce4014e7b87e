// Package message defines the core data types flowing through the puente pipeline.
package message

import "encoding/json"

// Kind classifies an inbound broker message. Classification happens once,
// when the envelope is built; downstream dispatch switches on the tag
// instead of re-inspecting raw payload keys.
type Kind int

const (
	// KindSensor is a partial sensor reading to be merged into the node's
	// aggregate. Unrecognized payload shapes fall through to this kind.
	KindSensor Kind = iota

	// KindControl is a network-layer response (ping reply, topology dump,
	// trace reply) relayed verbatim to the control endpoint.
	KindControl

	// KindGateway is the gateway's periodic identity report.
	KindGateway
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindGateway:
		return "gateway"
	default:
		return "sensor"
	}
}

// controlTypes is the fixed set of control message type tags.
var controlTypes = map[string]struct{}{
	"PONG":        {},
	"TOPO":        {},
	"TRACE_REPLY": {},
}

// Envelope is one decoded, classified inbound message awaiting processing.
// It is created once per broker delivery, never mutated afterwards, and
// consumed exactly once by the worker.
type Envelope struct {
	// Topic is the full topic the message arrived on.
	Topic string

	// NodeID is the final topic segment identifying the sending node.
	NodeID string

	// Kind is the classification tag set at creation time.
	Kind Kind

	// Object is the decoded payload when it is a JSON object, nil otherwise.
	Object map[string]any

	// Raw is the original payload bytes, preserved so control messages can
	// be forwarded without re-encoding.
	Raw json.RawMessage
}

// NodeID extracts the node identifier from a topic: the segment after the
// last '/'. A topic with no separator is its own identifier. An empty final
// segment (trailing slash, empty topic) yields the sentinel "unknown".
func NodeID(topic string) string {
	last := topic
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			last = topic[i+1:]
			break
		}
	}
	if last == "" {
		return "unknown"
	}
	return last
}

// Classify determines the kind of a decoded payload. It is pure and total:
// anything that is not a recognized control message or gateway report is a
// sensor reading.
func Classify(nodeID string, obj map[string]any) Kind {
	if obj != nil {
		if t, ok := obj["type"].(string); ok {
			if _, ctrl := controlTypes[t]; ctrl {
				return KindControl
			}
		}
		if nodeID == "gateway" {
			if _, ok := obj["ip"]; ok {
				return KindGateway
			}
		}
	}
	return KindSensor
}

// NewEnvelope decodes raw as JSON, extracts the node identifier from topic
// and classifies the result. It returns an error only when raw is not valid
// JSON; classification itself cannot fail.
func NewEnvelope(topic string, raw []byte) (*Envelope, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	obj, _ := decoded.(map[string]any)

	nodeID := NodeID(topic)
	rawCopy := make(json.RawMessage, len(raw))
	copy(rawCopy, raw)

	return &Envelope{
		Topic:  topic,
		NodeID: nodeID,
		Kind:   Classify(nodeID, obj),
		Object: obj,
		Raw:    rawCopy,
	}, nil
}
