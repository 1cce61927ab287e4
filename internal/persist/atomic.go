// Package persist writes versioned JSON records with an atomic
// temp-file-then-rename swap, so a crash never leaves a half-written file.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotExist is returned by Read when the record has never been written.
var ErrNotExist = errors.New("record does not exist")

// ErrSchemaMismatch is returned by Read when the stored schema version or
// kind differs from the expected one.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Envelope wraps every durable record.
type Envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Kind          string          `json:"kind"`
	SavedAt       time.Time       `json:"savedAt"`
	Data          json.RawMessage `json:"data"`
}

// Write marshals v into an envelope and atomically replaces path.
// The temp file and the parent directory are fsynced.
func Write(path, kind string, version int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	env := Envelope{
		SchemaVersion: version,
		Kind:          kind,
		SavedAt:       time.Now().UTC(),
		Data:          data,
	}
	payload, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return WriteFileAtomic(path, append(payload, '\n'), 0o600)
}

// Read loads path into v. It returns ErrNotExist when the file is missing,
// ErrSchemaMismatch for a foreign version or kind, and a decode error
// otherwise.
func Read(path, kind string, version int, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotExist
		}
		return err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", kind, err)
	}
	if env.SchemaVersion != version || env.Kind != kind {
		return fmt.Errorf("%w: %s has %s v%d, want %s v%d", ErrSchemaMismatch, filepath.Base(path), env.Kind, env.SchemaVersion, kind, version)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}

// WriteFileAtomic writes data to a sibling temp file, fsyncs it and renames
// it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return err
	}
	return syncDir(dir)
}

// Quarantine moves an unreadable record aside so the next write cannot
// destroy it. Returns the new path.
func Quarantine(path string, now time.Time) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	// Some filesystems reject fsync on directories; the rename already happened.
	_ = dir.Sync()
	return nil
}
