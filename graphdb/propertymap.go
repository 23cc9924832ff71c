package graphdb

import "sort"

// propertyMap is the committed property set of one element version.
// Committed maps are shared between versions and never written to.
type propertyMap map[StringID]Property

func newPropertyMap(entries []KeyValue) propertyMap {
	if len(entries) == 0 {
		return nil
	}
	m := make(propertyMap, len(entries))
	for _, kv := range entries {
		m[kv.Key] = kv.Value
	}
	return m
}

// entries returns the map as a slice ordered by key id.
func (m propertyMap) entries() []KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// propertyDelta is a transaction's pending change set for one element.
// A nil value records a removal.
type propertyDelta map[StringID]*Property

// apply returns a new map with delta applied on top of base. base is
// returned unchanged when delta is empty.
func (m propertyMap) apply(delta propertyDelta) propertyMap {
	if len(delta) == 0 {
		return m
	}
	out := make(propertyMap, len(m)+len(delta))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = *v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// lookupProperty resolves key through the delta first, then the base map.
func lookupProperty(base propertyMap, delta propertyDelta, key StringID) (Property, bool) {
	if p, ok := delta[key]; ok {
		if p == nil {
			return Property{}, false
		}
		return *p, true
	}
	p, ok := base[key]
	return p, ok
}
