package chunk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_SingleSmallChunk(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	wire := out.Bytes()
	assert.Equal(t, uint16(5), binary.BigEndian.Uint16(wire[0:2]))
	assert.Equal(t, "hello", string(wire[2:7]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(wire[7:9]))
}

func TestWriter_SplitsOversizedMessage(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	payload := bytes.Repeat([]byte{0xAB}, MaxChunkSize+10)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	d := NewDechunker(&out)
	got, err := d.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRoundTrip_MultipleWritesBeforeFlush(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	_, _ = w.Write([]byte("foo"))
	_, _ = w.Write([]byte("bar"))
	require.NoError(t, w.Flush())

	d := NewDechunker(&out)
	got, err := d.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(got))
}

func TestDechunker_TruncatedHeaderErrors(t *testing.T) {
	d := NewDechunker(bytes.NewReader([]byte{0x00}))
	_, err := d.ReadMessage()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunk)
}

func TestDechunker_SequentialMessages(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	_, _ = w.Write([]byte("one"))
	require.NoError(t, w.Flush())
	_, _ = w.Write([]byte("two"))
	require.NoError(t, w.Flush())

	d := NewDechunker(&out)
	first, err := d.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))

	second, err := d.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "two", string(second))
}

func TestWriter_ResetDiscardsBuffer(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	_, _ = w.Write([]byte("discarded"))
	w.Reset()
	require.NoError(t, w.Flush())

	wire := out.Bytes()
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(wire[0:2]), "flush after reset must emit only the terminator")
}

func TestDechunker_Close_CleanAfterFullRead(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, w.Flush())

	d := NewDechunker(&out)
	_, err := d.ReadMessage()
	require.NoError(t, err)
	assert.NoError(t, d.Close())
}
