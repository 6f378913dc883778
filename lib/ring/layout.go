package ring

import (
	"fmt"
	"unsafe"

	"github.com/ValentinKolb/shmrt/lib/shm"
)

// --------------------------------------------------------------------------
// Shared structures (overlaid on the segment, host byte order)
// --------------------------------------------------------------------------

const (
	nodeHeaderSize = 64
	nodeSize       = 32
	cacheLine      = 64
)

// nodeHeader holds the ring cursors. Every field is accessed atomically.
// ReadStart and WriteStart carry a generation in their upper 16 bits, see
// cursorIndex and advanceCursor.
//
// Circularly ReadEnd <= ReadStart <= WriteEnd <= WriteStart:
//   - [ReadEnd, ReadStart) nodes are being read
//   - [ReadStart, WriteEnd) nodes are readable
//   - [WriteEnd, WriteStart) nodes are being written
//   - [WriteStart, ReadEnd) nodes are free
type nodeHeader struct {
	ReadStart      uint32
	ReadEnd        uint32
	WriteStart     uint32
	WriteEnd       uint32
	WritersWaiting uint32
	ReadersWaiting uint32
	NodeCount      uint32
	NodeBufferSize uint32
	_              [32]byte
}

// node is one slot of the ring. Next, Prev, Index and Offset are fixed at creation.
type node struct {
	Next          uint32
	Prev          uint32
	DoneRead      uint32
	DoneWrite     uint32
	Index         uint32
	AmountWritten uint32
	Offset        uint64
}

var (
	_ [nodeHeaderSize - unsafe.Sizeof(nodeHeader{})]byte
	_ [unsafe.Sizeof(nodeHeader{}) - nodeHeaderSize]byte
	_ [nodeSize - unsafe.Sizeof(node{})]byte
	_ [unsafe.Sizeof(node{}) - nodeSize]byte
)

// --------------------------------------------------------------------------
// Reservation cursors
// --------------------------------------------------------------------------

const (
	cursorIndexBits = 16
	cursorIndexMask = 1<<cursorIndexBits - 1

	// MaxNodeCount is the largest ring the cursor encoding can address.
	MaxNodeCount = cursorIndexMask + 1
)

// cursorIndex returns the node index of a reservation cursor.
func cursorIndex(c uint32) uint32 { return c & cursorIndexMask }

// advanceCursor moves cursor c to node next and bumps its generation. A cursor
// loaded before the ring wrapped around no longer compares equal, so a stale
// compare-and-swap fails instead of advancing onto a node it has not checked.
func advanceCursor(c, next uint32) uint32 {
	return (c>>cursorIndexBits+1)<<cursorIndexBits | next
}

// layout describes where each region starts inside the segment:
// [Header][NodeHeader][Node x N][NodeBuffer x N]
type layout struct {
	nodeCount      uint32
	nodeBufferSize uint32
	nodeHeaderOff  int
	nodesOff       int
	buffersOff     int
	bufferStride   int
	totalSize      int
}

func alignTo(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func computeLayout(nodeCount, nodeBufferSize uint32) (layout, error) {
	if nodeCount < 2 {
		return layout{}, fmt.Errorf("%w: node count %d, need at least 2", ErrInvalidConfig, nodeCount)
	}
	if nodeCount > MaxNodeCount {
		return layout{}, fmt.Errorf("%w: node count %d exceeds %d", ErrInvalidConfig, nodeCount, MaxNodeCount)
	}
	if nodeBufferSize == 0 {
		return layout{}, fmt.Errorf("%w: node buffer size must be positive", ErrInvalidConfig)
	}

	l := layout{
		nodeCount:      nodeCount,
		nodeBufferSize: nodeBufferSize,
		nodeHeaderOff:  shm.HeaderSize,
		nodesOff:       shm.HeaderSize + nodeHeaderSize,
		bufferStride:   alignTo(int(nodeBufferSize), cacheLine),
	}
	l.buffersOff = alignTo(l.nodesOff+int(nodeCount)*nodeSize, cacheLine)
	l.totalSize = l.buffersOff + int(nodeCount)*l.bufferStride
	return l, nil
}

// RequiredSize returns the segment size for a ring with the given geometry.
func RequiredSize(nodeCount, nodeBufferSize uint32) (int, error) {
	l, err := computeLayout(nodeCount, nodeBufferSize)
	if err != nil {
		return 0, err
	}
	return l.totalSize, nil
}
