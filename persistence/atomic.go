// Package persistence implements the atomic write-temp/fsync/rename
// helper used by every component that persists JSON state (chain,
// reputation, fee distribution, developer recovery material), grounded
// on the teacher's write-then-commit pattern in
// stores/blockchain/sql/StoreBlock.go, adapted from a SQL transaction
// to a file-system rename.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"

	perr "github.com/playergold/node/errors"
)

// WriteJSONAtomic marshals v and atomically replaces path with it:
// write to a temp file in the same directory, fsync, then rename.
func WriteJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return perr.NewPersistenceError("mkdir for atomic write", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return perr.NewPersistenceError("marshal state", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return perr.NewPersistenceError("create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return perr.NewPersistenceError("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return perr.NewPersistenceError("fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return perr.NewPersistenceError("close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return perr.NewPersistenceError("rename temp file into place", err)
	}
	return nil
}

// ReadJSON loads v from path. A missing file is not an error — callers
// treat it as "nothing persisted yet" and keep zero-value state.
func ReadJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, perr.NewPersistenceError("read state file", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, perr.NewPersistenceError("unmarshal state file", err)
	}
	return true, nil
}
