package mq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/ValentinKolb/shmrt/lib/ring"
)

// --------------------------------------------------------------------------
// Chunk Header
// --------------------------------------------------------------------------

const (
	// ChunkHeaderSize is the size of the header at the start of every chunk
	ChunkHeaderSize = 12

	// KindContinuation marks chunks that continue a message started earlier
	KindContinuation uint8 = 0xFF
)

// Chunk flags
const (
	FlagFirst uint8 = 1 << 0
	FlagLast  uint8 = 1 << 1
)

var ErrMalformedChunk = errors.New("mq: malformed chunk")

// ChunkHeader is the wire view of the first ChunkHeaderSize bytes of a chunk:
//
//	[0]     kind (or KindContinuation)
//	[1]     flags
//	[2:4]   reserved, zero
//	[4:8]   message id, big endian
//	[8:12]  length, big endian: the total message length in a first chunk,
//	        the bytes carried by this chunk in a continuation
type ChunkHeader struct {
	Kind      uint8
	Flags     uint8
	MessageID uint32
	Length    uint32
}

// wireChunkHeader mirrors the encoded header to pin its size at compile time.
type wireChunkHeader struct {
	Kind      uint8
	Flags     uint8
	Reserved  [2]byte
	MessageID [4]byte
	Length    [4]byte
}

var (
	_ [ChunkHeaderSize - unsafe.Sizeof(wireChunkHeader{})]byte
	_ [unsafe.Sizeof(wireChunkHeader{}) - ChunkHeaderSize]byte
)

func (h ChunkHeader) IsFirst() bool { return h.Flags&FlagFirst != 0 }
func (h ChunkHeader) IsLast() bool  { return h.Flags&FlagLast != 0 }

// Encode writes the header into b, which must hold at least ChunkHeaderSize bytes.
func (h ChunkHeader) Encode(b []byte) {
	b[0] = h.Kind
	b[1] = h.Flags
	b[2] = 0
	b[3] = 0
	binary.BigEndian.PutUint32(b[4:8], h.MessageID)
	binary.BigEndian.PutUint32(b[8:12], h.Length)
}

// DecodeChunkHeader parses and sanity checks a chunk header.
func DecodeChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return ChunkHeader{}, fmt.Errorf("%w: data too short for chunk header (%d bytes)", ErrMalformedChunk, len(b))
	}
	if b[2] != 0 || b[3] != 0 {
		return ChunkHeader{}, fmt.Errorf("%w: reserved bytes set", ErrMalformedChunk)
	}
	h := ChunkHeader{
		Kind:      b[0],
		Flags:     b[1],
		MessageID: binary.BigEndian.Uint32(b[4:8]),
		Length:    binary.BigEndian.Uint32(b[8:12]),
	}
	switch {
	case h.IsFirst() && (h.Kind == KindContinuation || h.Kind == 0):
		return ChunkHeader{}, fmt.Errorf("%w: first chunk carries kind %#x", ErrMalformedChunk, h.Kind)
	case !h.IsFirst() && h.Kind != KindContinuation:
		return ChunkHeader{}, fmt.Errorf("%w: continuation chunk carries kind %#x", ErrMalformedChunk, h.Kind)
	}
	return h, nil
}

// --------------------------------------------------------------------------
// Chunk
// --------------------------------------------------------------------------

// Chunk is a reserved queue node viewed as a wire frame.
type Chunk struct {
	node ring.Node
}

func (c Chunk) IsValid() bool { return c.node.IsValid() }

// Index returns the ring position of the chunk.
func (c Chunk) Index() uint32 { return c.node.Index() }

// Buffer returns the whole chunk, header included.
func (c Chunk) Buffer() []byte { return c.node.Buffer() }

// Data returns the written part of the chunk, header included.
func (c Chunk) Data() []byte { return c.node.Data() }

// SetAmountWritten records how many bytes of the chunk, header included, were written.
func (c Chunk) SetAmountWritten(n int) { c.node.SetAmountWritten(n) }

// Header decodes the header of a read chunk.
func (c Chunk) Header() (ChunkHeader, error) {
	return DecodeChunkHeader(c.node.Data())
}

// Payload returns the bytes after the header of a read chunk.
func (c Chunk) Payload() []byte {
	d := c.node.Data()
	if len(d) < ChunkHeaderSize {
		return nil
	}
	return d[ChunkHeaderSize:]
}

// fill writes the header and payload into a chunk reserved for writing.
func (c Chunk) fill(h ChunkHeader, payload []byte) {
	buf := c.node.Buffer()
	h.Encode(buf)
	n := copy(buf[ChunkHeaderSize:], payload)
	c.node.SetAmountWritten(ChunkHeaderSize + n)
}
