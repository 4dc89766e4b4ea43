// document_test.go
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
	"testing"

	"github.com/notebase/docsync/internal/crdt"
)

func mustTransact(t *testing.T, d *Doc, fn func(tx *crdt.Txn) error) []byte {
	t.Helper()
	update, err := d.Transact(nil, fn)
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	return update
}

func TestTitleRoundTrip(t *testing.T) {
	d := New("actor-1")

	d.Read(func() {
		if got := d.Title(); got != "" {
			t.Errorf("expected empty title, got %q", got)
		}
	})

	mustTransact(t, d, func(tx *crdt.Txn) error {
		d.SetTitle(tx, "Quarterly Revenue")
		return nil
	})

	d.Read(func() {
		if got := d.Title(); got != "Quarterly Revenue" {
			t.Errorf("expected title %q, got %q", "Quarterly Revenue", got)
		}
	})
}

func TestBlockRoundTrip(t *testing.T) {
	d := New("actor-1")

	mustTransact(t, d, func(tx *crdt.Txn) error {
		return d.SetBlock(tx, Block{
			ID:   "b1",
			Type: BlockTypeSQL,
			Attributes: map[string]any{
				"datasourceId": "ds-1",
				"source":       "select 1",
			},
			ComponentID: "comp-1",
		})
	})

	d.Read(func() {
		b, ok := d.GetBlock("b1")
		if !ok {
			t.Fatal("expected block b1")
		}
		if b.Type != BlockTypeSQL {
			t.Errorf("expected type sql, got %q", b.Type)
		}
		if ds, _ := b.Attributes["datasourceId"].(string); ds != "ds-1" {
			t.Errorf("expected datasourceId ds-1, got %v", b.Attributes["datasourceId"])
		}
		if ref, ok := b.ComponentRef(); !ok || ref != "comp-1" {
			t.Errorf("expected component ref comp-1, got %q (%v)", ref, ok)
		}
	})
}

func TestSetBlockRequiresID(t *testing.T) {
	d := New("actor-1")
	_, err := d.Transact(nil, func(tx *crdt.Txn) error {
		return d.SetBlock(tx, Block{Type: BlockTypeRichText})
	})
	if err == nil {
		t.Fatal("expected error for block without id")
	}
}

func TestDeleteBlock(t *testing.T) {
	d := New("actor-1")

	mustTransact(t, d, func(tx *crdt.Txn) error {
		if err := d.SetBlock(tx, Block{ID: "b1", Type: BlockTypeRichText}); err != nil {
			return err
		}
		return d.SetBlock(tx, Block{ID: "b2", Type: BlockTypePython})
	})
	mustTransact(t, d, func(tx *crdt.Txn) error {
		d.DeleteBlock(tx, "b1")
		return nil
	})

	d.Read(func() {
		if _, ok := d.GetBlock("b1"); ok {
			t.Error("expected b1 deleted")
		}
		ids := d.BlockIDs()
		if len(ids) != 1 || ids[0] != "b2" {
			t.Errorf("expected block ids [b2], got %v", ids)
		}
	})
}

func TestComponentRefOnlyOnCodeBlocks(t *testing.T) {
	text := Block{ID: "b1", Type: BlockTypeRichText, ComponentID: "comp-1"}
	if _, ok := text.ComponentRef(); ok {
		t.Error("rich text block must not carry a component ref")
	}
	python := Block{ID: "b2", Type: BlockTypePython, ComponentID: "comp-2"}
	if ref, ok := python.ComponentRef(); !ok || ref != "comp-2" {
		t.Errorf("expected python component ref comp-2, got %q (%v)", ref, ok)
	}
	sql := Block{ID: "b3", Type: BlockTypeSQL}
	if _, ok := sql.ComponentRef(); ok {
		t.Error("unbound sql block must not report a component ref")
	}
}

func TestLayoutOrdering(t *testing.T) {
	d := New("actor-1")

	mustTransact(t, d, func(tx *crdt.Txn) error {
		if err := d.AppendGroup(tx, BlockGroup{ID: "g1", Tabs: []Tab{{BlockID: "b1"}}}); err != nil {
			return err
		}
		if err := d.AppendGroup(tx, BlockGroup{ID: "g3", Tabs: []Tab{{BlockID: "b3"}}}); err != nil {
			return err
		}
		return d.InsertGroup(tx, 1, BlockGroup{ID: "g2", Tabs: []Tab{{BlockID: "b2"}}})
	})

	d.Read(func() {
		groups := d.Layout()
		if len(groups) != 3 {
			t.Fatalf("expected 3 groups, got %d", len(groups))
		}
		for i, want := range []string{"g1", "g2", "g3"} {
			if groups[i].ID != want {
				t.Errorf("group %d: expected %s, got %s", i, want, groups[i].ID)
			}
		}
	})
}

func TestSetGroupReplacesInPlace(t *testing.T) {
	d := New("actor-1")

	mustTransact(t, d, func(tx *crdt.Txn) error {
		if err := d.AppendGroup(tx, BlockGroup{ID: "g1", Tabs: []Tab{{BlockID: "b1"}}}); err != nil {
			return err
		}
		return d.AppendGroup(tx, BlockGroup{ID: "g2", Tabs: []Tab{{BlockID: "b2"}}})
	})
	mustTransact(t, d, func(tx *crdt.Txn) error {
		return d.SetGroup(tx, BlockGroup{ID: "g1", Tabs: []Tab{{BlockID: "b1"}, {BlockID: "b9"}}, Current: "b9"})
	})

	d.Read(func() {
		groups := d.Layout()
		if len(groups) != 2 {
			t.Fatalf("expected 2 groups, got %d", len(groups))
		}
		if groups[0].ID != "g1" || len(groups[0].Tabs) != 2 || groups[0].Current != "b9" {
			t.Errorf("unexpected replaced group: %+v", groups[0])
		}
	})
}

func TestSetGroupMissing(t *testing.T) {
	d := New("actor-1")
	_, err := d.Transact(nil, func(tx *crdt.Txn) error {
		return d.SetGroup(tx, BlockGroup{ID: "nope"})
	})
	if err == nil {
		t.Fatal("expected error replacing a missing group")
	}
}

func TestDashboardRoundTrip(t *testing.T) {
	d := New("actor-1")

	mustTransact(t, d, func(tx *crdt.Txn) error {
		if err := d.SetDashboardItem(tx, DashboardItem{ID: "i1", BlockID: "b1", X: 0, Y: 0, Width: 4, Height: 2}); err != nil {
			return err
		}
		return d.SetDashboardItem(tx, DashboardItem{ID: "i2", BlockID: "b2", X: 4, Y: 0, Width: 2, Height: 2})
	})
	mustTransact(t, d, func(tx *crdt.Txn) error {
		d.DeleteDashboardItem(tx, "i2")
		return nil
	})

	d.Read(func() {
		items := d.Dashboard()
		if len(items) != 1 {
			t.Fatalf("expected 1 dashboard item, got %d", len(items))
		}
		item := items["i1"]
		if item.BlockID != "b1" || item.Width != 4 || item.Height != 2 {
			t.Errorf("unexpected item: %+v", item)
		}
	})
}

func TestDataframeRoundTrip(t *testing.T) {
	d := New("actor-1")

	mustTransact(t, d, func(tx *crdt.Txn) error {
		return d.SetDataframe(tx, "df_main", Dataframe{
			Name: "df_main",
			Columns: []DataframeColumn{
				{Name: "id", Type: "int64"},
				{Name: "revenue", Type: "float64"},
			},
		})
	})

	d.Read(func() {
		dfs := d.Dataframes()
		if len(dfs) != 1 {
			t.Fatalf("expected 1 dataframe, got %d", len(dfs))
		}
		df := dfs["df_main"]
		if df.Name != "df_main" || len(df.Columns) != 2 || df.Columns[1].Name != "revenue" {
			t.Errorf("unexpected dataframe: %+v", df)
		}
	})
}

func TestStateRoundTrip(t *testing.T) {
	d := New("actor-1")
	mustTransact(t, d, func(tx *crdt.Txn) error {
		d.SetTitle(tx, "Snapshot")
		if err := d.SetBlock(tx, Block{ID: "b1", Type: BlockTypeSQL}); err != nil {
			return err
		}
		if err := d.AppendGroup(tx, BlockGroup{ID: "g1", Tabs: []Tab{{BlockID: "b1"}}, Current: "b1"}); err != nil {
			return err
		}
		return d.SetDashboardItem(tx, DashboardItem{ID: "i1", BlockID: "b1", Width: 4, Height: 2})
	})

	state, err := d.EncodeState()
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	restored, err := FromState("actor-2", state)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}

	restored.Read(func() {
		if restored.Title() != "Snapshot" {
			t.Errorf("expected title Snapshot, got %q", restored.Title())
		}
		if _, ok := restored.GetBlock("b1"); !ok {
			t.Error("expected block b1 after restore")
		}
		groups := restored.Layout()
		if len(groups) != 1 || groups[0].Current != "b1" {
			t.Errorf("unexpected layout after restore: %+v", groups)
		}
		if len(restored.Dashboard()) != 1 {
			t.Error("expected dashboard item after restore")
		}
	})
}

func TestUpdateExchange(t *testing.T) {
	a := New("actor-a")
	b := New("actor-b")

	update := mustTransact(t, a, func(tx *crdt.Txn) error {
		a.SetTitle(tx, "Shared")
		return a.SetBlock(tx, Block{ID: "b1", Type: BlockTypeRichText})
	})

	mustTransact(t, b, func(tx *crdt.Txn) error {
		return b.ApplyUpdate(tx, update)
	})

	b.Read(func() {
		if b.Title() != "Shared" {
			t.Errorf("expected title Shared, got %q", b.Title())
		}
		if _, ok := b.GetBlock("b1"); !ok {
			t.Error("expected block b1 after applying update")
		}
	})
}
