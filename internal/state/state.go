// Package state holds the per-node aggregate of last-known sensor fields.
//
// Field sensor nodes publish partial readings (a temperature node never
// reports humidity), so the bridge accumulates fields per node and forwards
// the full aggregate on every update. The store lives for the lifetime of
// the process; nodes are never evicted.
package state

import "sync"

// Canonical field names. Readings arrive under either the English alias or
// the native name; they are stored under exactly one canonical key.
const (
	FieldTemperature  = "temperatura"
	FieldHumidity     = "humedad"
	FieldSoilMoisture = "soil_moisture"
	FieldLight        = "luz"
	FieldLightPercent = "luz_porcentaje"
	FieldLatitude     = "lat"
	FieldLongitude    = "lon"
)

type nodeEntry struct {
	mu     sync.Mutex
	fields map[string]float64
}

// Store maps node identifiers to their last observed field values.
// Each node has its own lock, so merges for distinct nodes proceed
// concurrently while merge and snapshot for one node are serialized.
type Store struct {
	mu    sync.Mutex
	nodes map[string]*nodeEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{nodes: make(map[string]*nodeEntry)}
}

// entry returns the node's entry, creating it on first use.
func (s *Store) entry(nodeID string) *nodeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.nodes[nodeID]
	if !ok {
		e = &nodeEntry{fields: make(map[string]float64)}
		s.nodes[nodeID] = e
	}
	return e
}

// number extracts a numeric value from a decoded JSON object. The English
// alias takes precedence over the native name when both are present.
func number(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

// Merge folds one partial reading into the node's aggregate. Fields absent
// from obj keep their stored value. Latitude and longitude are written only
// as a pair, and the light percentage only alongside a light reading in the
// same update (matching the deployed node firmware, which always sends them
// together).
func (s *Store) Merge(nodeID string, obj map[string]any) {
	e := s.entry(nodeID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := number(obj, "temperature", FieldTemperature); ok {
		e.fields[FieldTemperature] = v
	}
	if v, ok := number(obj, "humidity", FieldHumidity); ok {
		e.fields[FieldHumidity] = v
	}
	if v, ok := number(obj, FieldSoilMoisture, "humedad_suelo"); ok {
		e.fields[FieldSoilMoisture] = v
	}
	light, hasLight := number(obj, "light")
	if hasLight {
		e.fields[FieldLight] = light
	}
	if v, ok := number(obj, "percentage"); ok && hasLight {
		e.fields[FieldLightPercent] = v
	}
	lat, hasLat := number(obj, FieldLatitude)
	lon, hasLon := number(obj, FieldLongitude)
	if hasLat && hasLon {
		e.fields[FieldLatitude] = lat
		e.fields[FieldLongitude] = lon
	}
}

// Snapshot returns the forwardable aggregate for a node: its identifier,
// the given unix timestamp, and every field observed so far. A node that
// has never been merged yields only the identifier and timestamp.
func (s *Store) Snapshot(nodeID string, now int64) map[string]any {
	snap := map[string]any{
		"nodeId":    nodeID,
		"timestamp": now,
	}

	s.mu.Lock()
	e, ok := s.nodes[nodeID]
	s.mu.Unlock()
	if !ok {
		return snap
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range e.fields {
		snap[k] = v
	}
	return snap
}
