package engine

import (
	"strings"
	"sync"
)

// Vars is the shared context of a run: the run inputs plus one entry per
// completed node, keyed by node id. Writes from independent nodes never
// touch the same key, so a sync.Map avoids serializing unrelated branches
// behind a single lock.
type Vars struct {
	m sync.Map
}

// NewVars returns a shared context seeded with the given inputs.
func NewVars(seed map[string]any) *Vars {
	v := &Vars{}
	for k, val := range seed {
		v.m.Store(k, cloneValue(val))
	}
	return v
}

// Get returns a copy of the value stored under key. Executors may modify
// what they read without affecting other nodes.
func (v *Vars) Get(key string) (any, bool) {
	val, ok := v.m.Load(key)
	if !ok {
		return nil, false
	}
	return cloneValue(val), true
}

// Set stores a copy of val under key.
func (v *Vars) Set(key string, val any) {
	v.m.Store(key, cloneValue(val))
}

// Lookup resolves a dotted reference such as "llm.text". The first segment
// is a context key and every following segment indexes into a nested map.
func (v *Vars) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur, ok := v.m.Load(parts[0])
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cloneValue(cur), true
}

// Snapshot returns a deep copy of the current contents.
func (v *Vars) Snapshot() map[string]any {
	out := make(map[string]any)
	v.m.Range(func(k, val any) bool {
		out[k.(string)] = cloneValue(val)
		return true
	})
	return out
}

// cloneValue copies the JSON-shaped containers in val. Scalars and other
// types are returned as is.
func cloneValue(val any) any {
	switch t := val.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = cloneValue(v)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = cloneValue(v)
		}
		return out
	default:
		return val
	}
}
