// Package chunk implements Bolt's chunked message framing: a message is one
// or more length-prefixed chunks terminated by a zero-length chunk. The
// coalescing/splitting logic mirrors the teacher's TCP length-prefix
// fallback in internal/resolvers/forwarding_resolver.go (queryUpstreamTCP),
// generalized from a single fixed-size frame to an arbitrary-length,
// multi-chunk message.
package chunk

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jroosing/gobolt/internal/helpers"
)

// MaxChunkSize is the largest payload a single chunk's 16-bit length
// header can describe.
const MaxChunkSize = 65535

// ErrChunk is the sentinel wrapped by framing errors.
var ErrChunk = errors.New("chunk framing error")

// Writer buffers one logical message's bytes and, on Flush, emits them as
// one or more chunks no larger than MaxChunkSize, followed by the
// zero-length terminator.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer that emits chunks to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends p to the current message. It never itself hits the wire;
// call Flush once the whole message has been buffered.
func (cw *Writer) Write(p []byte) (int, error) {
	cw.buf = append(cw.buf, p...)
	return len(p), nil
}

// Flush splits the buffered message into MaxChunkSize-bounded chunks,
// writes them followed by a zero-length terminator, and resets the
// buffer. Each chunk's length saturates at MaxChunkSize (== math.MaxUint16)
// rather than wrapping when the remaining payload is longer.
func (cw *Writer) Flush() error {
	rest := cw.buf
	var hdr [2]byte
	for len(rest) > 0 {
		n := helpers.ClampIntToUint16(len(rest))
		binary.BigEndian.PutUint16(hdr[:], n)
		if _, err := cw.w.Write(hdr[:]); err != nil {
			return fmt.Errorf("%w: writing chunk header: %v", ErrChunk, err)
		}
		if _, err := cw.w.Write(rest[:n]); err != nil {
			return fmt.Errorf("%w: writing chunk body: %v", ErrChunk, err)
		}
		rest = rest[n:]
	}
	binary.BigEndian.PutUint16(hdr[:], 0)
	if _, err := cw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: writing terminator chunk: %v", ErrChunk, err)
	}
	cw.buf = cw.buf[:0]
	return nil
}

// Reset discards any buffered, unflushed bytes.
func (cw *Writer) Reset() { cw.buf = cw.buf[:0] }

// Dechunker reassembles a complete message from the wire: it reads chunks
// until the zero-length terminator and returns their concatenated payload.
type Dechunker struct {
	r        *bufio.Reader
	pending  bool // a chunk has been started but not yet fully consumed
	finished bool
}

// NewDechunker returns a Dechunker reading from r.
func NewDechunker(r io.Reader) *Dechunker {
	return &Dechunker{r: bufio.NewReader(r)}
}

// ReadMessage reads and concatenates chunks until the zero-length
// terminator, returning the full message payload.
func (d *Dechunker) ReadMessage() ([]byte, error) {
	d.pending = true
	defer func() { d.pending = false }()

	var msg []byte
	for {
		var hdr [2]byte
		if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
			return nil, fmt.Errorf("%w: reading chunk header: %v", ErrChunk, err)
		}
		n := binary.BigEndian.Uint16(hdr[:])
		if n == 0 {
			return msg, nil
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(d.r, chunk); err != nil {
			return nil, fmt.Errorf("%w: reading chunk body: %v", ErrChunk, err)
		}
		msg = append(msg, chunk...)
	}
}

// Close reports whether the Dechunker is being dropped mid-chunk, which is
// a programming error: every ReadMessage call must run to completion (to
// the terminator or to an error) before the Dechunker is discarded. Unlike
// the reference implementation's panic-during-unwind allowance, Go has no
// equivalent "drop" hook, so callers are expected to call this from a
// defer and log or panic themselves if it reports true outside of an
// already-failing path.
func (d *Dechunker) Close() error {
	if d.pending && !d.finished {
		return fmt.Errorf("%w: dechunker closed with an unfinished chunk in flight", ErrChunk)
	}
	d.finished = true
	return nil
}
