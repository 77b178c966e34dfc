package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

// TestEngines runs the capability contract against every backend.
func TestEngines(t *testing.T) {
	for _, name := range []string{Kvs, Bolt} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			eng, err := Open(name, dir, zap.NewNop())
			require.NoError(t, err)

			require.NoError(t, eng.Set("a", "1"))
			require.NoError(t, eng.Set("b", "2"))
			require.NoError(t, eng.Set("a", "3"))

			value, found, err := eng.Get("a")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "3", value)

			_, found, err = eng.Get("missing")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, eng.Remove("b"))
			_, found, err = eng.Get("b")
			require.NoError(t, err)
			require.False(t, found)

			err = eng.Remove("b")
			require.True(t, api.IsKind(err, api.KeyNotFound))

			require.NoError(t, eng.Close())

			// Mutations survive a close and reopen.
			eng, err = Open(name, dir, zap.NewNop())
			require.NoError(t, err)
			defer eng.Close()

			value, found, err = eng.Get("a")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "3", value)
		})
	}
}

// TestWrongEngine verifies that a data directory claimed by one backend
// refuses to open under the other.
func TestWrongEngine(t *testing.T) {
	dir := t.TempDir()

	eng, err := Open(Kvs, dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	_, err = Open(Bolt, dir, zap.NewNop())
	require.True(t, api.IsKind(err, api.WrongEngine))

	eng, err = Open(Kvs, dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, eng.Close())
}

// TestUnknownEngine verifies that an unrecognized backend name is
// rejected before it can claim the directory marker.
func TestUnknownEngine(t *testing.T) {
	dir := t.TempDir()

	_, err := Open("leveldb", dir, zap.NewNop())
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(dir, markerFile))
}
