package crdt

import "sort"

// entry is one LWW cell: the newest clock wins, deletions are tombstones so
// a concurrent re-set and delete converge deterministically.
type entry struct {
	Val     []byte `cbor:"v"`
	Clock   Clock  `cbor:"c"`
	Deleted bool   `cbor:"d,omitempty"`
}

// Map is a last-writer-wins map from string keys to opaque value bytes.
// Values are CBOR payloads owned by the caller and treated as immutable.
type Map struct {
	doc     *Doc
	name    string
	entries map[string]*entry
}

// Get returns the value for key. The returned bytes must not be modified.
func (m *Map) Get(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok || e.Deleted {
		return nil, false
	}
	return e.Val, true
}

// Has reports whether key holds a live value.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of live entries.
func (m *Map) Len() int {
	n := 0
	for _, e := range m.entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Keys returns the live keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set writes key to val within the transaction.
func (m *Map) Set(tx *Txn, key string, val []byte) {
	c := tx.tick()
	m.entries[key] = &entry{Val: val, Clock: c}
	tx.record(op{Kind: opMapSet, Struct: m.name, Key: key, Val: val, Clock: c})
}

// Delete tombstones key within the transaction.
func (m *Map) Delete(tx *Txn, key string) {
	c := tx.tick()
	m.entries[key] = &entry{Clock: c, Deleted: true}
	tx.record(op{Kind: opMapDelete, Struct: m.name, Key: key, Clock: c})
}

// Clear tombstones every live entry within the transaction.
func (m *Map) Clear(tx *Txn) {
	for _, k := range m.Keys() {
		m.Delete(tx, k)
	}
}

// merge applies a remote write, keeping the newer clock.
func (m *Map) merge(key string, e entry) {
	cur, ok := m.entries[key]
	if ok && e.Clock.Less(cur.Clock) {
		return
	}
	cp := e
	m.entries[key] = &cp
	m.doc.observeClock(e.Clock)
}
