// Package engine defines the storage capability the server dispatches
// against and the backends that satisfy it.
package engine

import (
	"bytes"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
	"github.com/Gibson-Gichuru/kvs/internal/store"
)

// Backend names accepted by Open and recorded in the engine marker file.
const (
	Kvs  = "kvs"
	Bolt = "bolt"
)

// markerFile names the backend a data directory belongs to. A directory
// written by one backend is refused by the other.
const markerFile = "engine"

// Engine is the storage capability: string keys and values, with a
// remove that fails on an absent key. Callers hold exclusive use of an
// Engine; implementations are not required to be safe for concurrent
// access.
type Engine interface {
	// Get returns the value stored for key. The boolean is false when
	// the key is absent, which is not an error.
	Get(key string) (string, bool, error)

	// Set stores value under key.
	Set(key, value string) error

	// Remove deletes key. It fails with KeyNotFound when the key is
	// absent.
	Remove(key string) error

	// Close releases the engine's files.
	Close() error
}

// Open opens the named backend over the data directory dir, creating the
// directory and its engine marker as needed. It fails with WrongEngine
// when dir already belongs to a different backend.
func Open(name, dir string, logger *zap.Logger) (Engine, error) {
	switch name {
	case Kvs, Bolt:
	default:
		return nil, api.Errorf(api.WrongEngine, "unknown engine %q", name)
	}

	if err := checkMarker(dir, name); err != nil {
		return nil, err
	}

	if name == Bolt {
		return openBolt(dir)
	}
	return store.Open(dir, store.Config{Logger: logger})
}

// checkMarker claims dir for the named backend, writing the marker on
// first open and refusing a mismatched one afterwards.
func checkMarker(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return api.E(api.Io, err)
	}

	path := filepath.Join(dir, markerFile)

	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) || (err == nil && len(contents) == 0) {
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			return api.E(api.Io, err)
		}
		return nil
	}
	if err != nil {
		return api.E(api.Io, err)
	}

	if !bytes.Equal(contents, []byte(name)) {
		return api.Errorf(
			api.WrongEngine,
			"data directory %s belongs to engine %q, not %q",
			dir, contents, name,
		)
	}
	return nil
}
