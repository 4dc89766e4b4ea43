// common.go
//
// Shared request parsing helpers for the HTTP handlers.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package handlers

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// decodeUpdates converts base64 update payloads from a request body into
// raw bytes. Empty entries are rejected.
func decodeUpdates(encoded []string) ([][]byte, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("no updates given")
	}
	updates := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, fmt.Errorf("update %d is empty", i)
		}
		raw, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("update %d is not valid base64: %w", i, err)
		}
		updates = append(updates, raw)
	}
	return updates, nil
}
