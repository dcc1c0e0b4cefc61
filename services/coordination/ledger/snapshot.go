// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot is the whole ledger document keyed by top-level collection.
//
// Collections are kept as raw JSON so that ones this module does not own
// (tasks, agent registries) survive a read-modify-write untouched.
type Snapshot map[string]json.RawMessage

// Clone returns a copy that can be mutated without affecting s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Decode unmarshals collection key into v.
//
// # Outputs
//
//   - bool: False if the key is absent (v untouched).
//   - error: *CorruptError if the collection does not match v.
func (s Snapshot) Decode(key string, v any) (bool, error) {
	raw, ok := s[key]
	if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, &CorruptError{Key: key, Err: err}
	}
	return true, nil
}

// Encode marshals v into collection key.
func (s Snapshot) Encode(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode collection %q: %w", key, err)
	}
	s[key] = raw
	return nil
}

// parseSnapshot decodes a ledger file's bytes.
//
// An empty file is corrupt: the store never writes one, so it can only be
// the result of a truncated write outside the atomic rename path.
func parseSnapshot(path string, data []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &CorruptError{Path: path, Err: fmt.Errorf("empty document")}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if snap == nil {
		// "null" decodes into a nil map without error.
		return nil, &CorruptError{Path: path, Err: fmt.Errorf("document is not an object")}
	}
	return snap, nil
}
