package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

// TestStore runs each scenario against a fresh store directory.
func TestStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, dir string){
		"set then get returns the value":       testSetGet,
		"get on a missing key returns nothing": testGetMissing,
		"overwrite returns the last value":     testOverwrite,
		"remove then get returns nothing":      testRemoveGet,
		"remove on a missing key fails":        testRemoveMissing,
		"values survive reopen":                testReopen,
		"removes survive reopen":               testRemoveReopen,
		"empty key and value round trip":       testEmptyKeyValue,
		"large values trigger compaction":      testLargeValue,
		"compaction bounds disk usage":         testCompaction,
		"truncated segment replays cleanly":    testTruncatedReplay,
		"second handle on one directory fails": testLocked,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, t.TempDir())
		})
	}
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, Config{})
	require.NoError(t, err)
	return s
}

func requireGet(t *testing.T, s *Store, key, want string) {
	t.Helper()
	value, found, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, value)
}

func requireMissing(t *testing.T, s *Store, key string) {
	t.Helper()
	_, found, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, found)
}

func testSetGet(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))

	requireGet(t, s, "a", "1")
	requireGet(t, s, "b", "2")
}

func testGetMissing(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	requireMissing(t, s, "missing")
}

func testOverwrite(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	require.NoError(t, s.Set("k", "v1"))
	require.NoError(t, s.Set("k", "v2"))

	requireGet(t, s, "k", "v2")
}

func testRemoveGet(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Remove("k"))

	requireMissing(t, s, "k")

	err := s.Remove("k")
	require.True(t, api.IsKind(err, api.KeyNotFound))
}

func testRemoveMissing(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	err := s.Remove("missing")
	require.True(t, api.IsKind(err, api.KeyNotFound))
}

func testReopen(t *testing.T, dir string) {
	s := openStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()

	requireGet(t, s, "a", "1")
	requireGet(t, s, "b", "2")
}

func testRemoveReopen(t *testing.T, dir string) {
	s := openStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Remove("a"))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()

	requireMissing(t, s, "a")

	err := s.Remove("a")
	require.True(t, api.IsKind(err, api.KeyNotFound))
}

func testEmptyKeyValue(t *testing.T, dir string) {
	s := openStore(t, dir)
	require.NoError(t, s.Set("", ""))
	require.NoError(t, s.Set("k", ""))

	requireGet(t, s, "", "")
	requireGet(t, s, "k", "")

	require.NoError(t, s.Close())
	s = openStore(t, dir)
	defer s.Close()

	requireGet(t, s, "", "")
	requireGet(t, s, "k", "")
}

func testLargeValue(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	v1 := strings.Repeat("x", DefaultCompactionThreshold+1)
	v2 := strings.Repeat("y", DefaultCompactionThreshold+1)

	require.NoError(t, s.Set("k", v1))
	// Overwriting turns v1's record into more dead bytes than the
	// threshold allows, so this set compacts before returning.
	require.NoError(t, s.Set("k", v2))

	indices, err := segmentIndices(dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, indices)

	requireGet(t, s, "k", v2)
}

func testCompaction(t *testing.T, dir string) {
	s := openStore(t, dir)
	defer s.Close()

	value := func(i int) string {
		return fmt.Sprintf("%0200d", i)
	}

	for i := 0; i < 10000; i++ {
		require.NoError(t, s.Set("k", value(i)))
	}

	requireGet(t, s, "k", value(9999))

	// Roughly 2 MiB of dead records were written; all but the last
	// threshold's worth must have been reclaimed.
	var total int64
	indices, err := segmentIndices(dir)
	require.NoError(t, err)
	for _, idx := range indices {
		fi, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%d.log", idx)))
		require.NoError(t, err)
		total += fi.Size()
	}
	require.Less(t, total, int64(2*DefaultCompactionThreshold))
}

func testTruncatedReplay(t *testing.T, dir string) {
	s := openStore(t, dir)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Close())

	name := filepath.Join(dir, "0.log")
	fi, err := os.Stat(name)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(name, fi.Size()-3))

	s = openStore(t, dir)
	requireGet(t, s, "a", "1")
	requireMissing(t, s, "b")

	// The partial record was cut off, so appending is safe again.
	require.NoError(t, s.Set("c", "3"))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()

	requireGet(t, s, "a", "1")
	requireGet(t, s, "c", "3")
	requireMissing(t, s, "b")
}

func testLocked(t *testing.T, dir string) {
	s := openStore(t, dir)

	_, err := Open(dir, Config{})
	require.Error(t, err)
	require.True(t, api.IsKind(err, api.Io))

	require.NoError(t, s.Close())

	s = openStore(t, dir)
	require.NoError(t, s.Close())
}
