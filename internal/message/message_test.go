package message

import (
	"encoding/json"
	"testing"
)

func TestNodeID(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"Nodos/datos/nodo1", "nodo1"},
		{"Nodos/datos/gateway", "gateway"},
		{"a/b/c/d", "d"},
		{"solo", "solo"},
		{"Nodos/datos/", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := NodeID(tt.topic); got != tt.want {
			t.Errorf("NodeID(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		nodeID  string
		payload string
		want    Kind
	}{
		{"pong", "nodo1", `{"type":"PONG","seq":3}`, KindControl},
		{"topo", "gateway", `{"type":"TOPO","nodes":[]}`, KindControl},
		{"trace reply", "nodo2", `{"type":"TRACE_REPLY","hops":2}`, KindControl},
		{"unknown type tag", "nodo1", `{"type":"PING"}`, KindSensor},
		{"non-string type", "nodo1", `{"type":7}`, KindSensor},
		{"gateway report", "gateway", `{"ip":"10.0.0.2","nodes":3}`, KindGateway},
		{"gateway without ip", "gateway", `{"uptime":12}`, KindSensor},
		{"ip from a regular node", "nodo1", `{"ip":"10.0.0.9"}`, KindSensor},
		{"plain reading", "nodo1", `{"temperature":21.5}`, KindSensor},
		{"array payload", "nodo1", `[1,2,3]`, KindSensor},
		{"scalar payload", "nodo1", `42`, KindSensor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded any
			if err := json.Unmarshal([]byte(tt.payload), &decoded); err != nil {
				t.Fatalf("bad test payload: %v", err)
			}
			obj, _ := decoded.(map[string]any)
			if got := Classify(tt.nodeID, obj); got != tt.want {
				t.Errorf("Classify(%q, %s) = %v, want %v", tt.nodeID, tt.payload, got, tt.want)
			}
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("Nodos/datos/nodo1", []byte(`{"temperature":21.5}`))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.NodeID != "nodo1" {
		t.Errorf("NodeID = %q, want nodo1", env.NodeID)
	}
	if env.Kind != KindSensor {
		t.Errorf("Kind = %v, want sensor", env.Kind)
	}
	if env.Object["temperature"] != 21.5 {
		t.Errorf("Object[temperature] = %v, want 21.5", env.Object["temperature"])
	}
	if string(env.Raw) != `{"temperature":21.5}` {
		t.Errorf("Raw = %s, original payload not preserved", env.Raw)
	}
}

func TestNewEnvelopeRejectsMalformedJSON(t *testing.T) {
	if _, err := NewEnvelope("Nodos/datos/nodo1", []byte(`{"temperature":`)); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}

func TestNewEnvelopeNonObjectPayload(t *testing.T) {
	env, err := NewEnvelope("Nodos/datos/nodo1", []byte(`[1,2]`))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Kind != KindSensor {
		t.Errorf("Kind = %v, want sensor fallthrough", env.Kind)
	}
	if env.Object != nil {
		t.Errorf("Object = %v, want nil for non-object payload", env.Object)
	}
}
