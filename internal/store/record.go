package store

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

type commandTag int

const (
	tagSet commandTag = iota
	tagRemove
)

// command is a single mutation appended to a segment. A set command is
// encoded as [2][tagSet][2][value][key] — value first, so its byte offset
// is independent of the key and a value can be decoded standalone once its
// offset is known. A remove is encoded as [2][tagRemove][1][key].
//
// The three framing markers (outer array, tag, field array) are each a
// single MessagePack byte for the tags and arities in use, so the value of
// a set command always starts valuePrefix bytes into the record. The
// writer and the scanner still measure the real offset rather than trust
// the constant; a codec test pins the two together.
type command struct {
	tag   commandTag
	key   string
	value string
}

// valuePrefix is the fixed distance from the start of a set record to the
// start of its encoded value.
const valuePrefix = 3

func setCommand(key, value string) command {
	return command{tag: tagSet, key: key, value: value}
}

func removeCommand(key string) command {
	return command{tag: tagRemove, key: key}
}

// encodeCommand serializes cmd and returns the encoded bytes along with
// the offset of the value within them (0 for a remove).
func encodeCommand(cmd command) ([]byte, int64, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, 0, api.E(api.Encode, err)
	}
	if err := enc.EncodeInt(int64(cmd.tag)); err != nil {
		return nil, 0, api.E(api.Encode, err)
	}

	var valueOffset int64

	switch cmd.tag {
	case tagSet:
		if err := enc.EncodeArrayLen(2); err != nil {
			return nil, 0, api.E(api.Encode, err)
		}
		valueOffset = int64(buf.Len())
		if err := enc.EncodeString(cmd.value); err != nil {
			return nil, 0, api.E(api.Encode, err)
		}
		if err := enc.EncodeString(cmd.key); err != nil {
			return nil, 0, api.E(api.Encode, err)
		}
	case tagRemove:
		if err := enc.EncodeArrayLen(1); err != nil {
			return nil, 0, api.E(api.Encode, err)
		}
		if err := enc.EncodeString(cmd.key); err != nil {
			return nil, 0, api.E(api.Encode, err)
		}
	default:
		return nil, 0, api.Errorf(api.Encode, "unknown command tag %d", cmd.tag)
	}

	return buf.Bytes(), valueOffset, nil
}

// record is one decoded command together with its position in the segment.
// valueOffset is only meaningful for set commands.
type record struct {
	cmd         command
	start       int64
	length      int64
	valueOffset int64
}

// countingReader counts the bytes its inner reader has handed out.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// recordScanner decodes a stream of commands, reporting the byte offset
// and length of each.
type recordScanner struct {
	cr  *countingReader
	br  *bufio.Reader
	dec *msgpack.Decoder

	// good is the offset of the boundary after the last complete record,
	// which is where a truncated segment must be cut back to.
	good int64
}

// newRecordScanner scans records from r, which must be positioned at the
// start of a segment.
func newRecordScanner(r io.Reader) *recordScanner {
	cr := &countingReader{r: r}
	br := bufio.NewReader(cr)
	return &recordScanner{
		cr:  cr,
		br:  br,
		dec: msgpack.NewDecoder(br),
	}
}

// pos is the number of bytes the decoder has consumed: everything pulled
// from the file minus what still sits in the read-ahead buffer.
func (s *recordScanner) pos() int64 {
	return s.cr.n - int64(s.br.Buffered())
}

// Scan decodes the next record. It returns io.EOF once the stream ends
// cleanly on a record boundary. A record cut short by truncation yields a
// Decode error wrapping io.ErrUnexpectedEOF; other malformed input yields
// a plain Decode error. Scanning must not continue after an error.
func (s *recordScanner) Scan() (record, error) {
	start := s.pos()
	s.good = start

	n, err := s.dec.DecodeArrayLen()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return record{}, io.EOF
		}
		return record{}, scanError(err)
	}
	if n != 2 {
		return record{}, api.Errorf(api.Decode, "bad record framing: array length %d", n)
	}

	tag, err := s.dec.DecodeInt()
	if err != nil {
		return record{}, scanError(err)
	}

	arity, err := s.dec.DecodeArrayLen()
	if err != nil {
		return record{}, scanError(err)
	}

	rec := record{start: start}

	switch commandTag(tag) {
	case tagSet:
		if arity != 2 {
			return record{}, api.Errorf(api.Decode, "bad set record arity %d", arity)
		}
		rec.valueOffset = s.pos()
		value, err := s.dec.DecodeString()
		if err != nil {
			return record{}, scanError(err)
		}
		key, err := s.dec.DecodeString()
		if err != nil {
			return record{}, scanError(err)
		}
		rec.cmd = setCommand(key, value)
	case tagRemove:
		if arity != 1 {
			return record{}, api.Errorf(api.Decode, "bad remove record arity %d", arity)
		}
		key, err := s.dec.DecodeString()
		if err != nil {
			return record{}, scanError(err)
		}
		rec.cmd = removeCommand(key)
	default:
		return record{}, api.Errorf(api.Decode, "unknown record tag %d", tag)
	}

	rec.length = s.pos() - start
	s.good = start + rec.length
	return rec, nil
}

// lastGood returns the offset of the boundary after the last record that
// decoded completely.
func (s *recordScanner) lastGood() int64 {
	return s.good
}

// scanError wraps a decode failure mid-record. Running out of bytes after
// the first marker means the record was cut off, which replay treats
// differently from other corruption.
func scanError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return api.E(api.Decode, io.ErrUnexpectedEOF)
	}
	return api.E(api.Decode, err)
}
