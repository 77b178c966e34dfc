package store

import (
	"io"
	"math"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

// location describes where a written command landed in its segment.
// valueOffset is the absolute offset of the encoded value bytes (only
// meaningful for set commands); length is the total record length.
type location struct {
	valueOffset int64
	length      int64
}

// segmentWriter appends commands to a single segment file, tracking the
// byte offset at which the next record will start.
type segmentWriter struct {
	file   *os.File
	offset int64
}

// newSegmentWriter opens the named segment file for writing, creating it
// if needed, and positions itself at the end.
func newSegmentWriter(name string) (*segmentWriter, error) {
	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, api.E(api.Io, err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, api.E(api.Io, err)
	}

	return &segmentWriter{file: file, offset: offset}, nil
}

// Write serializes cmd, appends it to the segment and returns its
// location. Commands are written straight to the file descriptor, so a
// completed Write has reached the OS. The writer makes no attempt to
// reposition after a failed write.
func (w *segmentWriter) Write(cmd command) (location, error) {
	p, valueOffset, err := encodeCommand(cmd)
	if err != nil {
		return location{}, err
	}

	n, err := w.file.Write(p)
	if err != nil {
		return location{}, api.E(api.Io, err)
	}

	loc := location{
		valueOffset: w.offset + valueOffset,
		length:      int64(n),
	}
	w.offset += int64(n)

	return loc, nil
}

// Close closes the underlying file.
func (w *segmentWriter) Close() error {
	if err := w.file.Close(); err != nil {
		return api.E(api.Io, err)
	}
	return nil
}

// segmentReader reads values and records back out of a single segment
// file. It is safe to interleave ReadValue calls with an in-progress
// Records scan because all reads go through ReadAt.
type segmentReader struct {
	file *os.File
}

// openSegmentReader opens the named segment file for random-access reads.
func openSegmentReader(name string) (*segmentReader, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, api.E(api.Io, err)
	}
	return &segmentReader{file: file}, nil
}

// ReadValue decodes the single string value starting at offset. Callers
// only pass offsets produced by a Write or a scan, so there is always a
// value there; failing to decode one means the segment is corrupt.
func (r *segmentReader) ReadValue(offset int64) (string, error) {
	sr := io.NewSectionReader(r.file, offset, math.MaxInt64-offset)
	dec := msgpack.NewDecoder(sr)

	value, err := dec.DecodeString()
	if err != nil {
		return "", api.E(api.Decode, err)
	}
	return value, nil
}

// Records returns a scanner over the segment's commands from offset 0.
func (r *segmentReader) Records() (*recordScanner, error) {
	fi, err := r.file.Stat()
	if err != nil {
		return nil, api.E(api.Io, err)
	}
	return newRecordScanner(io.NewSectionReader(r.file, 0, fi.Size())), nil
}

// Close closes the underlying file.
func (r *segmentReader) Close() error {
	if err := r.file.Close(); err != nil {
		return api.E(api.Io, err)
	}
	return nil
}
