package crdt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// op kinds carried in incremental updates.
const (
	opMapSet    = "ms"
	opMapDelete = "md"
	opSeqInsert = "si"
	opSeqSet    = "ss"
	opSeqDelete = "sd"
	opRegSet    = "rs"
	opReplace   = "xr" // wholesale state replacement
)

// op is one mutation within a transaction.
type op struct {
	Kind   string `cbor:"k"`
	Struct string `cbor:"s,omitempty"`
	Key    string `cbor:"key,omitempty"`
	Pos    string `cbor:"pos,omitempty"`
	Val    []byte `cbor:"v,omitempty"`
	Clock  Clock  `cbor:"c"`
}

type updatePayload struct {
	Ops []op `cbor:"ops"`
}

// docState is the full-state wire form of a document.
type docState struct {
	Clock uint64                      `cbor:"clock"`
	Maps  map[string]map[string]entry `cbor:"maps,omitempty"`
	Seqs  map[string][]element        `cbor:"seqs,omitempty"`
	Regs  map[string]*entry           `cbor:"regs,omitempty"`
}

// EncodeState serializes the document's full merge state, tombstones
// included. Must not be called from inside this document's own Transact
// callback.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.encodeStateLocked()
}

func (d *Doc) encodeStateLocked() ([]byte, error) {
	st := docState{
		Clock: d.clock,
		Maps:  make(map[string]map[string]entry, len(d.maps)),
		Seqs:  make(map[string][]element, len(d.seqs)),
		Regs:  make(map[string]*entry, len(d.regs)),
	}
	for name, m := range d.maps {
		entries := make(map[string]entry, len(m.entries))
		for k, e := range m.entries {
			entries[k] = *e
		}
		st.Maps[name] = entries
	}
	for name, seq := range d.seqs {
		elems := make([]element, len(seq.elems))
		for i, e := range seq.elems {
			elems[i] = *e
		}
		st.Seqs[name] = elems
	}
	for name, r := range d.regs {
		st.Regs[name] = r.val
	}
	return cbor.Marshal(st)
}

// NewDocFromState decodes a full state produced by EncodeState.
func NewDocFromState(actor string, data []byte) (*Doc, error) {
	d := NewDoc(actor)
	if err := d.applyStateLocked(data); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Doc) applyStateLocked(data []byte) error {
	var st docState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	d.maps = make(map[string]*Map, len(st.Maps))
	for name, entries := range st.Maps {
		m := &Map{doc: d, name: name, entries: make(map[string]*entry, len(entries))}
		for k, e := range entries {
			cp := e
			m.entries[k] = &cp
		}
		d.maps[name] = m
	}
	d.seqs = make(map[string]*Sequence, len(st.Seqs))
	for name, elems := range st.Seqs {
		seq := &Sequence{doc: d, name: name, elems: make([]*element, len(elems))}
		for i, e := range elems {
			cp := e
			seq.elems[i] = &cp
		}
		seq.sortElems()
		d.seqs[name] = seq
	}
	d.regs = make(map[string]*Register, len(st.Regs))
	for name, e := range st.Regs {
		d.regs[name] = &Register{doc: d, name: name, val: e}
	}
	if st.Clock > d.clock {
		d.clock = st.Clock
	}
	return nil
}

// ReplaceState overwrites the whole document with a previously encoded full
// state. Used for read-replica documents that mirror a source document
// rather than being edited in place.
func (d *Doc) ReplaceState(tx *Txn, data []byte) error {
	if err := d.applyStateLocked(data); err != nil {
		return err
	}
	tx.record(op{Kind: opReplace, Val: data, Clock: tx.tick()})
	return nil
}

// ApplyUpdate merges an incremental update produced by a Transact on a
// replica of this document. Each operation is merged last-writer-wins, so
// applying an update twice, or applying concurrent updates in either order,
// converges on the same state.
func (d *Doc) ApplyUpdate(tx *Txn, data []byte) error {
	var payload updatePayload
	if err := cbor.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	for _, o := range payload.Ops {
		switch o.Kind {
		case opMapSet:
			d.GetMap(o.Struct).merge(o.Key, entry{Val: o.Val, Clock: o.Clock})
		case opMapDelete:
			d.GetMap(o.Struct).merge(o.Key, entry{Clock: o.Clock, Deleted: true})
		case opSeqInsert, opSeqSet:
			d.GetSequence(o.Struct).merge(element{ID: o.Key, Pos: o.Pos, Val: o.Val, Clock: o.Clock})
		case opSeqDelete:
			d.GetSequence(o.Struct).merge(element{ID: o.Key, Clock: o.Clock, Deleted: true})
		case opRegSet:
			d.GetRegister(o.Struct).merge(entry{Val: o.Val, Clock: o.Clock})
		case opReplace:
			if err := d.applyStateLocked(o.Val); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown op kind %q", o.Kind)
		}
	}
	tx.record(payload.Ops...)
	return nil
}
