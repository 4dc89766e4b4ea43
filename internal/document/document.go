// document.go
//
// The replicated container for one notebook document variant.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package document

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/notebase/docsync/internal/crdt"
)

// Names of the top-level mergeable structures within a container.
const (
	structTitle      = "title"
	structBlocks     = "blocks"
	structLayout     = "layout"
	structDashboard  = "dashboard"
	structDataframes = "dataframes"
)

// Doc is the full replicated state of one document variant: title, blocks,
// layout, dashboard and dataframe schemas, each an independently mergeable
// structure under one transactional envelope.
//
// Mutations require the *crdt.Txn token from Transact; read accessors must
// run inside Transact or Read.
type Doc struct {
	inner *crdt.Doc
}

// New creates an empty container stamped with the given actor identity.
func New(actor string) *Doc {
	return &Doc{inner: crdt.NewDoc(actor)}
}

// FromState decodes a container from previously encoded full state.
func FromState(actor string, state []byte) (*Doc, error) {
	inner, err := crdt.NewDocFromState(actor, state)
	if err != nil {
		return nil, err
	}
	return &Doc{inner: inner}, nil
}

// Actor returns the actor identity of this container.
func (d *Doc) Actor() string { return d.inner.Actor() }

// Transact runs fn atomically against the container. See crdt.Doc.Transact.
func (d *Doc) Transact(meta crdt.Meta, fn func(tx *crdt.Txn) error) ([]byte, error) {
	return d.inner.Transact(meta, fn)
}

// Read runs fn with shared read access.
func (d *Doc) Read(fn func()) { d.inner.Read(fn) }

// EncodeState serializes the container's full state.
func (d *Doc) EncodeState() ([]byte, error) { return d.inner.EncodeState() }

// ReplaceState overwrites the container wholesale with an encoded state.
func (d *Doc) ReplaceState(tx *crdt.Txn, state []byte) error {
	return d.inner.ReplaceState(tx, state)
}

// ApplyUpdate merges an incremental update from a replica.
func (d *Doc) ApplyUpdate(tx *crdt.Txn, update []byte) error {
	return d.inner.ApplyUpdate(tx, update)
}

// Observe registers a change observer. See crdt.Doc.Observe.
func (d *Doc) Observe(fn func(update []byte, meta crdt.Meta)) func() {
	return d.inner.Observe(fn)
}

// Title returns the document title text, or "" if never set.
func (d *Doc) Title() string {
	raw := d.inner.GetRegister(structTitle).Get()
	if raw == nil {
		return ""
	}
	var frag titleFragment
	if err := cbor.Unmarshal(raw, &frag); err != nil {
		return ""
	}
	return frag.Root.Text
}

// SetTitle replaces the title fragment wholesale with a single root node.
func (d *Doc) SetTitle(tx *crdt.Txn, title string) {
	raw, _ := cbor.Marshal(titleFragment{Root: titleNode{Tag: "title", Text: title}})
	d.inner.GetRegister(structTitle).Set(tx, raw)
}

// GetBlock returns the block with the given id.
func (d *Doc) GetBlock(id string) (Block, bool) {
	raw, ok := d.inner.GetMap(structBlocks).Get(id)
	if !ok {
		return Block{}, false
	}
	var b Block
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return Block{}, false
	}
	return b, true
}

// BlockIDs returns the ids of all blocks in sorted order.
func (d *Doc) BlockIDs() []string {
	return d.inner.GetMap(structBlocks).Keys()
}

// Blocks returns all blocks keyed by id.
func (d *Doc) Blocks() map[string]Block {
	out := make(map[string]Block)
	for _, id := range d.BlockIDs() {
		if b, ok := d.GetBlock(id); ok {
			out[id] = b
		}
	}
	return out
}

// SetBlock writes a block record under its id.
func (d *Doc) SetBlock(tx *crdt.Txn, b Block) error {
	if b.ID == "" {
		return fmt.Errorf("block id is required")
	}
	raw, err := cbor.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	d.inner.GetMap(structBlocks).Set(tx, b.ID, raw)
	return nil
}

// DeleteBlock removes a block record. The id is tombstoned and never reused.
func (d *Doc) DeleteBlock(tx *crdt.Txn, id string) {
	d.inner.GetMap(structBlocks).Delete(tx, id)
}

// ClearBlocks removes every block record.
func (d *Doc) ClearBlocks(tx *crdt.Txn) {
	d.inner.GetMap(structBlocks).Clear(tx)
}

// Layout returns the ordered block groups.
func (d *Doc) Layout() []BlockGroup {
	elems := d.inner.GetSequence(structLayout).Slice()
	out := make([]BlockGroup, 0, len(elems))
	for _, e := range elems {
		var g BlockGroup
		if err := cbor.Unmarshal(e.Val, &g); err == nil {
			out = append(out, g)
		}
	}
	return out
}

// AppendGroup adds a block group to the end of the layout.
func (d *Doc) AppendGroup(tx *crdt.Txn, g BlockGroup) error {
	if g.ID == "" {
		return fmt.Errorf("block group id is required")
	}
	raw, err := cbor.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode block group: %w", err)
	}
	d.inner.GetSequence(structLayout).Append(tx, g.ID, raw)
	return nil
}

// InsertGroup places a block group at index within the layout order.
func (d *Doc) InsertGroup(tx *crdt.Txn, index int, g BlockGroup) error {
	if g.ID == "" {
		return fmt.Errorf("block group id is required")
	}
	raw, err := cbor.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode block group: %w", err)
	}
	d.inner.GetSequence(structLayout).Insert(tx, index, g.ID, raw)
	return nil
}

// SetGroup replaces an existing block group in place.
func (d *Doc) SetGroup(tx *crdt.Txn, g BlockGroup) error {
	raw, err := cbor.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode block group: %w", err)
	}
	if !d.inner.GetSequence(structLayout).Set(tx, g.ID, raw) {
		return fmt.Errorf("block group %s not found", g.ID)
	}
	return nil
}

// DeleteGroup removes a block group from the layout.
func (d *Doc) DeleteGroup(tx *crdt.Txn, id string) {
	d.inner.GetSequence(structLayout).Delete(tx, id)
}

// ClearLayout removes every block group.
func (d *Doc) ClearLayout(tx *crdt.Txn) {
	d.inner.GetSequence(structLayout).Clear(tx)
}

// Dashboard returns all dashboard items keyed by item id.
func (d *Doc) Dashboard() map[string]DashboardItem {
	m := d.inner.GetMap(structDashboard)
	out := make(map[string]DashboardItem)
	for _, id := range m.Keys() {
		raw, _ := m.Get(id)
		var item DashboardItem
		if err := cbor.Unmarshal(raw, &item); err == nil {
			out[id] = item
		}
	}
	return out
}

// SetDashboardItem writes a dashboard item under its id.
func (d *Doc) SetDashboardItem(tx *crdt.Txn, item DashboardItem) error {
	if item.ID == "" {
		return fmt.Errorf("dashboard item id is required")
	}
	raw, err := cbor.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode dashboard item: %w", err)
	}
	d.inner.GetMap(structDashboard).Set(tx, item.ID, raw)
	return nil
}

// DeleteDashboardItem removes a dashboard item.
func (d *Doc) DeleteDashboardItem(tx *crdt.Txn, id string) {
	d.inner.GetMap(structDashboard).Delete(tx, id)
}

// Dataframes returns all dataframe schemas keyed by dataframe id.
func (d *Doc) Dataframes() map[string]Dataframe {
	m := d.inner.GetMap(structDataframes)
	out := make(map[string]Dataframe)
	for _, id := range m.Keys() {
		raw, _ := m.Get(id)
		var df Dataframe
		if err := cbor.Unmarshal(raw, &df); err == nil {
			out[id] = df
		}
	}
	return out
}

// SetDataframe writes a dataframe schema under its id.
func (d *Doc) SetDataframe(tx *crdt.Txn, id string, df Dataframe) error {
	raw, err := cbor.Marshal(df)
	if err != nil {
		return fmt.Errorf("encode dataframe: %w", err)
	}
	d.inner.GetMap(structDataframes).Set(tx, id, raw)
	return nil
}

// DeleteDataframe removes a dataframe schema.
func (d *Doc) DeleteDataframe(tx *crdt.Txn, id string) {
	d.inner.GetMap(structDataframes).Delete(tx, id)
}
