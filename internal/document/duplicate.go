// duplicate.go
//
// Structural deep copy of a document container under identifier remapping.
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
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notebase/docsync/internal/crdt"
)

// CopyOptions controls a container copy.
type CopyOptions struct {
	// KeepIDs copies blocks under their source identifiers instead of
	// assigning fresh ones.
	KeepIDs bool
	// DatasourceMap remaps datasource bindings carried in block attributes,
	// for copies that land in a workspace with different datasources.
	DatasourceMap map[string]string
}

// Copy performs a structural deep copy of src into dst inside one atomic
// transaction on dst: title (renamed through renameTitle), blocks, layout,
// dashboard and dataframes. Layout tab references, group selection pointers
// and dashboard block references are translated through the new block
// identifiers. The returned map is the old-to-new block identifier mapping;
// it is the contract surface for re-binding records that live outside the
// container. The map must be consumed within the caller's enclosing
// transactional scope.
func Copy(src, dst *Doc, renameTitle func(string) string, opts CopyOptions) (map[string]string, error) {
	idMap := make(map[string]string)
	_, err := dst.Transact(crdt.Meta{"duplicating": true}, func(tx *crdt.Txn) error {
		var copyErr error
		src.Read(func() {
			copyErr = copyInto(tx, src, dst, renameTitle, opts, idMap)
		})
		return copyErr
	})
	if err != nil {
		return nil, err
	}
	return idMap, nil
}

// CopyWithoutHistory returns a fresh container holding src's current state
// under the same identifiers, with none of src's operation history.
func CopyWithoutHistory(src *Doc) (*Doc, error) {
	dst := New(src.Actor())
	if _, err := Copy(src, dst, func(title string) string { return title }, CopyOptions{KeepIDs: true}); err != nil {
		return nil, err
	}
	return dst, nil
}

func copyInto(tx *crdt.Txn, src, dst *Doc, renameTitle func(string) string, opts CopyOptions, idMap map[string]string) error {
	dst.SetTitle(tx, renameTitle(src.Title()))

	dst.ClearBlocks(tx)
	for id, block := range src.Blocks() {
		if !block.Type.Known() {
			// a block without a recognized type means a corrupt record;
			// it is dropped rather than carried into the copy
			log.Warn().Str("blockId", id).Str("blockType", string(block.Type)).
				Msg("skipping block with unrecognized type during copy")
			continue
		}
		newID := id
		if !opts.KeepIDs {
			newID = uuid.NewString()
		}
		idMap[id] = newID

		block.ID = newID
		if len(opts.DatasourceMap) > 0 {
			if ds, ok := block.Attributes["datasourceId"].(string); ok {
				if mapped, ok := opts.DatasourceMap[ds]; ok {
					block.Attributes["datasourceId"] = mapped
				}
			}
		}
		if err := dst.SetBlock(tx, block); err != nil {
			return err
		}
	}

	dst.ClearLayout(tx)
	for _, group := range src.Layout() {
		if !opts.KeepIDs {
			for i, tab := range group.Tabs {
				group.Tabs[i].BlockID = translateID(idMap, tab.BlockID, "layout tab")
			}
			if group.Current != "" {
				group.Current = translateID(idMap, group.Current, "group selection")
			}
		}
		if err := dst.AppendGroup(tx, group); err != nil {
			return err
		}
	}

	for _, item := range src.Dashboard() {
		if !opts.KeepIDs {
			mapped, ok := idMap[item.BlockID]
			if !ok {
				// backing block was not copied; the item would dangle
				continue
			}
			item.BlockID = mapped
			item.ID = uuid.NewString()
		}
		if err := dst.SetDashboardItem(tx, item); err != nil {
			return err
		}
	}

	for id, df := range src.Dataframes() {
		if err := dst.SetDataframe(tx, id, df); err != nil {
			return err
		}
	}

	return nil
}

// translateID maps a block reference through idMap. A reference missing from
// the map means the source already held a dangling reference; a fresh
// identifier is substituted so the copy stays well-formed, and the case is
// logged as a corruption signal.
func translateID(idMap map[string]string, blockID, context string) string {
	if mapped, ok := idMap[blockID]; ok {
		return mapped
	}
	log.Warn().Str("blockId", blockID).Str("ref", context).
		Msg("dangling block reference during copy, substituting fresh id")
	return uuid.NewString()
}
