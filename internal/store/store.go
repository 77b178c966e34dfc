// Package store implements a log-structured key value store in the
// Bitcask style. Every mutation is appended to a numbered segment file;
// an in-memory index maps each live key to the location of its most
// recent value; compaction rewrites the live keys into a fresh segment
// and deletes the old ones.
//
// A mutation has reached the OS when the call returns, so completed
// writes survive a process crash. There is no per-write fsync, so they do
// not necessarily survive power loss.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

const (
	// DefaultCompactionThreshold is the number of dead bytes a store
	// tolerates before rewriting its segments.
	DefaultCompactionThreshold = 1024 * 1024

	logExt   = ".log"
	lockFile = "LOCK"
)

// Config holds the tunables for a Store. The zero value selects the
// default compaction threshold and a no-op logger.
type Config struct {
	CompactionThreshold uint64
	Logger              *zap.Logger
}

// indexEntry locates the most recent value written for a key.
type indexEntry struct {
	segment     uint64
	valueOffset int64
	length      int64
}

// Store is a directory of append-only segment files plus the in-memory
// index over them. A Store is a single-owner resource: it is not safe for
// concurrent use, and the directory is guarded by an advisory lock so
// that no second handle can open it.
type Store struct {
	path        string
	config      Config
	lock        *flock.Flock
	active      uint64
	writer      *segmentWriter
	readers     map[uint64]*segmentReader
	index       map[string]indexEntry
	uncompacted uint64
}

// Open opens the store rooted at dir, creating the directory if needed
// and replaying any existing segments to rebuild the index. It fails
// with an Io error if another handle holds the directory's lock.
func Open(dir string, c Config) (*Store, error) {
	if c.CompactionThreshold == 0 {
		c.CompactionThreshold = DefaultCompactionThreshold
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, api.E(api.Io, err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, api.E(api.Io, err)
	}
	if !locked {
		return nil, api.Errorf(api.Io, "store %s is locked by another handle", dir)
	}

	s := &Store{
		path:    dir,
		config:  c,
		lock:    lock,
		readers: make(map[uint64]*segmentReader),
		index:   make(map[string]indexEntry),
	}

	if err := s.setup(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// setup replays the existing segments in ascending order and attaches a
// writer to the active one.
func (s *Store) setup() error {
	indices, err := segmentIndices(s.path)
	if err != nil {
		return err
	}

	for _, idx := range indices {
		reader, err := openSegmentReader(s.segmentPath(idx))
		if err != nil {
			return err
		}
		s.readers[idx] = reader
		if err := s.replay(idx, reader); err != nil {
			return err
		}
	}

	if len(indices) > 0 {
		s.active = indices[len(indices)-1]
	}

	if s.writer, err = newSegmentWriter(s.segmentPath(s.active)); err != nil {
		return err
	}
	if _, ok := s.readers[s.active]; !ok {
		reader, err := openSegmentReader(s.segmentPath(s.active))
		if err != nil {
			return err
		}
		s.readers[s.active] = reader
	}

	s.config.Logger.Debug(
		"store opened",
		zap.String("path", s.path),
		zap.Int("segments", len(s.readers)),
		zap.Int("keys", len(s.index)),
		zap.Uint64("uncompacted", s.uncompacted),
	)

	return nil
}

// replay scans one segment and applies each record to the index. A
// record cut off by a crash is discarded and the file is truncated back
// to the last record boundary so the writer never appends after garbage.
func (s *Store) replay(segment uint64, reader *segmentReader) error {
	scanner, err := reader.Records()
	if err != nil {
		return err
	}

	for {
		rec, err := scanner.Scan()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.config.Logger.Warn(
					"discarding truncated trailing record",
					zap.Uint64("segment", segment),
					zap.Int64("offset", scanner.lastGood()),
				)
				return s.truncate(segment, scanner)
			}
			return err
		}
		s.apply(segment, rec)
	}
}

// apply is the single-record replay rule. A set replaces any prior entry
// for the key, whose bytes become dead. A remove is dead itself and kills
// the entry it removes.
func (s *Store) apply(segment uint64, rec record) {
	switch rec.cmd.tag {
	case tagSet:
		entry := indexEntry{
			segment:     segment,
			valueOffset: rec.valueOffset,
			length:      rec.length,
		}
		if old, ok := s.index[rec.cmd.key]; ok {
			s.uncompacted += uint64(old.length)
		}
		s.index[rec.cmd.key] = entry
	case tagRemove:
		s.uncompacted += uint64(rec.length)
		if old, ok := s.index[rec.cmd.key]; ok {
			s.uncompacted += uint64(old.length)
			delete(s.index, rec.cmd.key)
		}
	}
}

// truncate cuts a segment back to the end of its last complete record.
func (s *Store) truncate(segment uint64, scanner *recordScanner) error {
	if err := os.Truncate(s.segmentPath(segment), scanner.lastGood()); err != nil {
		return api.E(api.Io, err)
	}
	return nil
}

// Get returns the value stored for key. The second return is false when
// the key is absent, which is not an error.
func (s *Store) Get(key string) (string, bool, error) {
	entry, ok := s.index[key]
	if !ok {
		return "", false, nil
	}

	reader, ok := s.readers[entry.segment]
	if !ok {
		panic(fmt.Sprintf("store: no reader for segment %d", entry.segment))
	}

	value, err := reader.ReadValue(entry.valueOffset)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key, appending one record to the active segment.
// Overwriting a key turns its previous record into dead bytes; once
// enough accumulate the store compacts before returning.
func (s *Store) Set(key, value string) error {
	loc, err := s.writer.Write(setCommand(key, value))
	if err != nil {
		return err
	}

	entry := indexEntry{
		segment:     s.active,
		valueOffset: loc.valueOffset,
		length:      loc.length,
	}
	if old, ok := s.index[key]; ok {
		s.uncompacted += uint64(old.length)
	}
	s.index[key] = entry

	if s.uncompacted > s.config.CompactionThreshold {
		return s.compact()
	}
	return nil
}

// Remove deletes key from the store, appending one remove record. It
// fails with KeyNotFound, appending nothing, when the key is absent.
func (s *Store) Remove(key string) error {
	old, ok := s.index[key]
	if !ok {
		return api.E(api.KeyNotFound, nil)
	}

	loc, err := s.writer.Write(removeCommand(key))
	if err != nil {
		return err
	}

	delete(s.index, key)
	s.uncompacted += uint64(old.length) + uint64(loc.length)

	return nil
}

// compact rewrites every live key into a fresh segment and deletes the
// older ones. Two indices are allocated: the compaction target, and a new
// active segment so future writes never land in the compacted file. Old
// segments are only deleted after every live value has been written out,
// which keeps a crash mid-compaction recoverable by plain replay.
func (s *Store) compact() error {
	compaction := s.active + 1

	compactionWriter, err := newSegmentWriter(s.segmentPath(compaction))
	if err != nil {
		return err
	}
	compactionReader, err := openSegmentReader(s.segmentPath(compaction))
	if err != nil {
		compactionWriter.Close()
		return err
	}
	s.readers[compaction] = compactionReader

	active := compaction + 1
	writer, err := newSegmentWriter(s.segmentPath(active))
	if err != nil {
		compactionWriter.Close()
		return err
	}
	reader, err := openSegmentReader(s.segmentPath(active))
	if err != nil {
		compactionWriter.Close()
		writer.Close()
		return err
	}

	if err := s.writer.Close(); err != nil {
		return err
	}
	s.writer = writer
	s.active = active
	s.readers[active] = reader

	for key, entry := range s.index {
		source, ok := s.readers[entry.segment]
		if !ok {
			panic(fmt.Sprintf("store: no reader for segment %d", entry.segment))
		}
		value, err := source.ReadValue(entry.valueOffset)
		if err != nil {
			return err
		}
		loc, err := compactionWriter.Write(setCommand(key, value))
		if err != nil {
			return err
		}
		s.index[key] = indexEntry{
			segment:     compaction,
			valueOffset: loc.valueOffset,
			length:      loc.length,
		}
	}

	if err := compactionWriter.Close(); err != nil {
		return err
	}

	var removed int
	for idx, reader := range s.readers {
		if idx >= compaction {
			continue
		}
		if err := reader.Close(); err != nil {
			return err
		}
		if err := os.Remove(s.segmentPath(idx)); err != nil {
			return api.E(api.Io, err)
		}
		delete(s.readers, idx)
		removed++
	}

	reclaimed := s.uncompacted
	s.uncompacted = 0

	s.config.Logger.Info(
		"compacted store",
		zap.String("path", s.path),
		zap.Int("segments_removed", removed),
		zap.Int("live_keys", len(s.index)),
		zap.Uint64("dead_bytes", reclaimed),
	)

	return nil
}

// Close releases the writer, every cached reader and the directory lock.
// It is safe to call on a partially opened store.
func (s *Store) Close() error {
	var err error

	if s.writer != nil {
		err = multierr.Append(err, s.writer.Close())
		s.writer = nil
	}
	for idx, reader := range s.readers {
		err = multierr.Append(err, reader.Close())
		delete(s.readers, idx)
	}
	if s.lock != nil {
		err = multierr.Append(err, s.lock.Unlock())
		s.lock = nil
	}

	return err
}

func (s *Store) segmentPath(index uint64) string {
	return filepath.Join(s.path, fmt.Sprintf("%d%s", index, logExt))
}

// segmentIndices lists the segment indices present in dir in ascending
// order. Files without a .log extension or a numeric stem are ignored.
func segmentIndices(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, api.E(api.Io, err)
	}

	var indices []uint64
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), logExt) {
			continue
		}
		stem := strings.TrimSuffix(file.Name(), logExt)
		index, err := strconv.ParseUint(stem, 10, 64)
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}

	sort.Slice(indices, func(i, j int) bool {
		return indices[i] < indices[j]
	})

	return indices, nil
}
