// types.go
//
// Notebook content types held in a document container.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package document

// BlockType tags the kind of content a block holds
type BlockType string

const (
	BlockTypeSQL             BlockType = "sql"
	BlockTypePython          BlockType = "python"
	BlockTypeRichText        BlockType = "richText"
	BlockTypeVisualization   BlockType = "visualization"
	BlockTypeVisualizationV2 BlockType = "visualizationV2"
	BlockTypeInput           BlockType = "input"
	BlockTypeDropdownInput   BlockType = "dropdownInput"
	BlockTypeDateInput       BlockType = "dateInput"
	BlockTypeFileUpload      BlockType = "fileUpload"
	BlockTypeDashboardHeader BlockType = "dashboardHeader"
	BlockTypeWriteback       BlockType = "writeback"
	BlockTypePivotTable      BlockType = "pivotTable"
)

var knownBlockTypes = map[BlockType]struct{}{
	BlockTypeSQL:             {},
	BlockTypePython:          {},
	BlockTypeRichText:        {},
	BlockTypeVisualization:   {},
	BlockTypeVisualizationV2: {},
	BlockTypeInput:           {},
	BlockTypeDropdownInput:   {},
	BlockTypeDateInput:       {},
	BlockTypeFileUpload:      {},
	BlockTypeDashboardHeader: {},
	BlockTypeWriteback:       {},
	BlockTypePivotTable:      {},
}

// Known reports whether t is a recognized block type.
func (t BlockType) Known() bool {
	_, ok := knownBlockTypes[t]
	return ok
}

// Block is one typed unit of document content. Attributes are type-specific;
// only SQL and Python blocks may carry a reusable component binding.
type Block struct {
	ID          string         `cbor:"id" json:"id"`
	Type        BlockType      `cbor:"type" json:"type"`
	Attributes  map[string]any `cbor:"attrs,omitempty" json:"attributes,omitempty"`
	ComponentID string         `cbor:"componentId,omitempty" json:"componentId,omitempty"`
}

// ComponentRef returns the reusable component this block is bound to.
// Only code blocks carry component bindings.
func (b Block) ComponentRef() (string, bool) {
	switch b.Type {
	case BlockTypeSQL, BlockTypePython:
		return b.ComponentID, b.ComponentID != ""
	}
	return "", false
}

// Tab references a block within a layout group.
type Tab struct {
	BlockID string `cbor:"id" json:"blockId"`
}

// BlockGroup is one ordered group of tabbed blocks in the layout.
// Current holds the block id of the selected tab.
type BlockGroup struct {
	ID      string `cbor:"id" json:"id"`
	Tabs    []Tab  `cbor:"tabs" json:"tabs"`
	Current string `cbor:"current,omitempty" json:"current,omitempty"`
}

// DashboardItem places a block on the published dashboard.
type DashboardItem struct {
	ID      string `cbor:"id" json:"id"`
	BlockID string `cbor:"blockId" json:"blockId"`
	X       int    `cbor:"x" json:"x"`
	Y       int    `cbor:"y" json:"y"`
	Width   int    `cbor:"w" json:"width"`
	Height  int    `cbor:"h" json:"height"`
}

// DataframeColumn describes one column of a computed dataframe.
type DataframeColumn struct {
	Name string `cbor:"name" json:"name"`
	Type string `cbor:"type" json:"type"`
}

// Dataframe is the cached schema of a block execution result. It is a
// read-only cache keyed independently of block identity.
type Dataframe struct {
	Name    string            `cbor:"name" json:"name"`
	Columns []DataframeColumn `cbor:"columns,omitempty" json:"columns,omitempty"`
}

// titleFragment is the rich-text title with a single root node.
type titleFragment struct {
	Root titleNode `cbor:"root"`
}

type titleNode struct {
	Tag  string `cbor:"tag"`
	Text string `cbor:"text"`
}
