// Package bolt drives a single Bolt connection: handshake, the per-version
// message protocol, request pipelining, and the connection state machine.
// Its read/write plumbing is built on internal/iobolt/chunk and
// internal/iobolt/socket; wire values are PackStream (internal/packstream).
package bolt

import (
	"bufio"
	"fmt"
	"io"

	"github.com/jroosing/gobolt/internal/errorkind"
)

// magicPreamble identifies the start of a Bolt handshake on the wire.
var magicPreamble = [4]byte{0x60, 0x60, 0xB0, 0x17}

// Version is a negotiated (major, minor) Bolt protocol version.
type Version struct {
	Major, Minor byte
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// versionOffer encodes up to four offered version ranges as
// 00 <range> <minor> <major> quads, highest first. Offering 5.4 down to
// 5.0 as a single range plus 4.4 standalone mirrors the two live protocol
// families this core speaks.
var versionOffer = [16]byte{
	0, 4, 4, 5, // Bolt 5.4 - 5.0
	0, 0, 4, 4, // Bolt 4.4
	0, 0, 0, 0,
	0, 0, 0, 0,
}

// Handshake writes the magic preamble and version offer to rw, reads the
// server's 4-byte reply, and returns the negotiated version. Any failure
// here is the caller's cue to shut the socket down in both directions.
func Handshake(rw *bufio.ReadWriter) (Version, error) {
	if _, err := rw.Write(magicPreamble[:]); err != nil {
		return Version{}, fmt.Errorf("%w: writing magic preamble: %v", errorkind.ErrProtocol, err)
	}
	if _, err := rw.Write(versionOffer[:]); err != nil {
		return Version{}, fmt.Errorf("%w: writing version offer: %v", errorkind.ErrProtocol, err)
	}
	if err := rw.Flush(); err != nil {
		return Version{}, fmt.Errorf("%w: flushing handshake: %v", errorkind.ErrProtocol, err)
	}

	var reply [4]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		return Version{}, fmt.Errorf("%w: reading handshake reply: %v", errorkind.ErrProtocol, err)
	}
	return decodeVersionOffer(reply)
}

func decodeVersionOffer(reply [4]byte) (Version, error) {
	switch reply {
	case [4]byte{0, 0, 0, 0}:
		return Version{}, errorkind.NewProtocol("server version not supported")
	case [4]byte{0x48, 0x54, 0x54, 0x50}: // "HTTP"
		return Version{}, errorkind.NewProtocol(fmt.Sprintf("unexpected server handshake response %v (looks like HTTP)", reply))
	}
	major, minor := reply[3], reply[2]
	switch {
	case major == 4 && minor == 4:
		return Version{4, 4}, nil
	case major == 5 && minor <= 4:
		return Version{5, minor}, nil
	default:
		return Version{}, errorkind.NewProtocol(fmt.Sprintf("unexpected server handshake response %v", reply))
	}
}
