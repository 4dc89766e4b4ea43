// doc.go
//
// Mergeable document substrate for the docsync collaborative state engine.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package crdt

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Clock is a Lamport clock with an actor tiebreak. Two concurrent writes to
// the same entry converge on the write with the larger clock.
type Clock struct {
	Time  uint64 `cbor:"t"`
	Actor string `cbor:"a"`
}

// Less reports whether c orders strictly before o.
func (c Clock) Less(o Clock) bool {
	if c.Time != o.Time {
		return c.Time < o.Time
	}
	return c.Actor < o.Actor
}

// Meta carries transaction metadata for downstream change observers.
// It never affects merge correctness.
type Meta map[string]any

// Doc is a collection of named mergeable structures (maps, sequences,
// registers) mutated under one transactional envelope.
//
// All access goes through Transact or Read. Mutation methods require the
// *Txn token handed to the Transact callback; read methods are only safe
// inside a Transact or Read callback.
type Doc struct {
	mu    sync.RWMutex
	actor string
	clock uint64

	maps map[string]*Map
	seqs map[string]*Sequence
	regs map[string]*Register

	obsMu     sync.Mutex
	observers map[int]func(update []byte, meta Meta)
	nextObsID int
}

// NewDoc creates an empty document owned by the given actor identity.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor: actor,
		maps:  make(map[string]*Map),
		seqs:  make(map[string]*Sequence),
		regs:  make(map[string]*Register),
	}
}

// Actor returns the actor identity writes from this document are stamped with.
func (d *Doc) Actor() string {
	return d.actor
}

// GetMap returns the named map, creating it if absent.
func (d *Doc) GetMap(name string) *Map {
	if m, ok := d.maps[name]; ok {
		return m
	}
	m := &Map{doc: d, name: name, entries: make(map[string]*entry)}
	d.maps[name] = m
	return m
}

// GetSequence returns the named sequence, creating it if absent.
func (d *Doc) GetSequence(name string) *Sequence {
	if s, ok := d.seqs[name]; ok {
		return s
	}
	s := &Sequence{doc: d, name: name}
	d.seqs[name] = s
	return s
}

// GetRegister returns the named register, creating it if absent.
func (d *Doc) GetRegister(name string) *Register {
	if r, ok := d.regs[name]; ok {
		return r
	}
	r := &Register{doc: d, name: name}
	d.regs[name] = r
	return r
}

// Txn is the mutation token for one transaction. It records every applied
// operation so the transaction can be encoded as an incremental update.
type Txn struct {
	doc  *Doc
	meta Meta
	ops  []op
}

// Meta returns the metadata the transaction was opened with.
func (t *Txn) Meta() Meta {
	return t.meta
}

// tick advances the Lamport clock and returns the clock for a new write.
func (t *Txn) tick() Clock {
	t.doc.clock++
	return Clock{Time: t.doc.clock, Actor: t.doc.actor}
}

func (t *Txn) record(o ...op) {
	t.ops = append(t.ops, o...)
}

// Observe registers fn to be called with the update bytes and metadata of
// every committed transaction. It returns an unsubscribe function.
func (d *Doc) Observe(fn func(update []byte, meta Meta)) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	if d.observers == nil {
		d.observers = make(map[int]func(update []byte, meta Meta))
	}
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = fn
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		delete(d.observers, id)
	}
}

func (d *Doc) notify(update []byte, meta Meta) {
	d.obsMu.Lock()
	fns := make([]func(update []byte, meta Meta), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn(update, meta)
	}
}

// Transact runs fn with exclusive access to the document. All edits fn makes
// are applied atomically: if fn returns an error the document reverts to its
// pre-transaction state and nothing is recorded. On success Transact returns
// the incremental update bytes describing exactly the edits of this
// transaction, suitable for broadcast and for ApplyUpdate on a replica.
func (d *Doc) Transact(meta Meta, fn func(tx *Txn) error) ([]byte, error) {
	d.mu.Lock()

	snap := d.snapshotLocked()
	tx := &Txn{doc: d, meta: meta}

	if err := fn(tx); err != nil {
		d.restoreLocked(snap)
		d.mu.Unlock()
		return nil, err
	}

	if len(tx.ops) == 0 {
		d.mu.Unlock()
		return nil, nil
	}
	update, err := cbor.Marshal(updatePayload{Ops: tx.ops})
	if err != nil {
		d.restoreLocked(snap)
		d.mu.Unlock()
		return nil, fmt.Errorf("encode update: %w", err)
	}
	d.mu.Unlock()

	d.notify(update, meta)
	return update, nil
}

// Read runs fn with shared read access to the document.
func (d *Doc) Read(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

// snapshot is a deep copy of the document's merge state. Value bytes are
// treated as immutable and shared.
type snapshot struct {
	clock uint64
	maps  map[string]map[string]entry
	seqs  map[string][]element
	regs  map[string]*entry
}

func (d *Doc) snapshotLocked() snapshot {
	s := snapshot{
		clock: d.clock,
		maps:  make(map[string]map[string]entry, len(d.maps)),
		seqs:  make(map[string][]element, len(d.seqs)),
		regs:  make(map[string]*entry, len(d.regs)),
	}
	for name, m := range d.maps {
		entries := make(map[string]entry, len(m.entries))
		for k, e := range m.entries {
			entries[k] = *e
		}
		s.maps[name] = entries
	}
	for name, seq := range d.seqs {
		elems := make([]element, len(seq.elems))
		for i, e := range seq.elems {
			elems[i] = *e
		}
		s.seqs[name] = elems
	}
	for name, r := range d.regs {
		if r.val != nil {
			cp := *r.val
			s.regs[name] = &cp
		} else {
			s.regs[name] = nil
		}
	}
	return s
}

func (d *Doc) restoreLocked(s snapshot) {
	d.clock = s.clock
	d.maps = make(map[string]*Map, len(s.maps))
	for name, entries := range s.maps {
		m := &Map{doc: d, name: name, entries: make(map[string]*entry, len(entries))}
		for k, e := range entries {
			cp := e
			m.entries[k] = &cp
		}
		d.maps[name] = m
	}
	d.seqs = make(map[string]*Sequence, len(s.seqs))
	for name, elems := range s.seqs {
		seq := &Sequence{doc: d, name: name, elems: make([]*element, len(elems))}
		for i, e := range elems {
			cp := e
			seq.elems[i] = &cp
		}
		d.seqs[name] = seq
	}
	d.regs = make(map[string]*Register, len(s.regs))
	for name, e := range s.regs {
		d.regs[name] = &Register{doc: d, name: name, val: e}
	}
}

// observeClock folds a remote clock into the local Lamport clock.
func (d *Doc) observeClock(c Clock) {
	if c.Time > d.clock {
		d.clock = c.Time
	}
}
