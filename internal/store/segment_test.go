package store

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSegmentWriter verifies that the writer tracks its offset across
// writes and that reopening the same file continues from the end.
func TestSegmentWriter(t *testing.T) {
	name := filepath.Join(t.TempDir(), "0.log")

	w, err := newSegmentWriter(name)
	require.NoError(t, err)

	var offset int64
	for _, cmd := range []command{
		setCommand("a", "1"),
		setCommand("b", "2"),
		removeCommand("a"),
	} {
		p, valueOffset, err := encodeCommand(cmd)
		require.NoError(t, err)

		loc, err := w.Write(cmd)
		require.NoError(t, err)
		require.Equal(t, int64(len(p)), loc.length)
		if cmd.tag == tagSet {
			require.Equal(t, offset+valueOffset, loc.valueOffset)
		}
		offset += loc.length
	}
	require.NoError(t, w.Close())

	w, err = newSegmentWriter(name)
	require.NoError(t, err)
	defer w.Close()

	loc, err := w.Write(setCommand("c", "3"))
	require.NoError(t, err)
	require.Equal(t, offset+valuePrefix, loc.valueOffset)
}

// TestSegmentReadValue verifies that values can be read back standalone
// at the locations the writer reported.
func TestSegmentReadValue(t *testing.T) {
	name := filepath.Join(t.TempDir(), "0.log")

	w, err := newSegmentWriter(name)
	require.NoError(t, err)
	defer w.Close()

	values := map[string]string{
		"a": "1",
		"b": "hello world",
		"c": "",
	}

	locations := make(map[string]location)
	for key, value := range values {
		loc, err := w.Write(setCommand(key, value))
		require.NoError(t, err)
		locations[key] = loc
	}

	r, err := openSegmentReader(name)
	require.NoError(t, err)
	defer r.Close()

	for key, value := range values {
		got, err := r.ReadValue(locations[key].valueOffset)
		require.NoError(t, err)
		require.Equal(t, value, got)
	}
}

// TestSegmentRecords verifies that a reader iterates back exactly the
// commands a writer appended.
func TestSegmentRecords(t *testing.T) {
	name := filepath.Join(t.TempDir(), "0.log")

	commands := []command{
		setCommand("a", "1"),
		removeCommand("a"),
		setCommand("b", "2"),
	}

	w, err := newSegmentWriter(name)
	require.NoError(t, err)
	defer w.Close()

	for _, cmd := range commands {
		_, err := w.Write(cmd)
		require.NoError(t, err)
	}

	r, err := openSegmentReader(name)
	require.NoError(t, err)
	defer r.Close()

	scanner, err := r.Records()
	require.NoError(t, err)

	for _, cmd := range commands {
		rec, err := scanner.Scan()
		require.NoError(t, err)
		require.Equal(t, cmd, rec.cmd)
	}

	_, err = scanner.Scan()
	require.Equal(t, io.EOF, err)
}
