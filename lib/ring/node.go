package ring

import (
	"fmt"
	"sync/atomic"
)

// Node is a handle to one reserved slot of a Buffer. It is only valid between
// ReserveWrite and Publish, or between ReserveRead and ReturnNode.
type Node struct {
	buf *Buffer
	n   *node
}

// IsValid reports whether the handle refers to a reserved node.
func (n Node) IsValid() bool {
	return n.n != nil
}

// Index returns the position of the node in the ring.
func (n Node) Index() uint32 {
	return n.n.Index
}

// Buffer returns the full data region of the node.
func (n Node) Buffer() []byte {
	off := int(n.n.Offset)
	size := int(n.buf.layout.nodeBufferSize)
	return n.buf.mem[off : off+size : off+size]
}

// SetAmountWritten records how many bytes of Buffer carry data.
func (n Node) SetAmountWritten(size int) {
	if size < 0 || size > int(n.buf.layout.nodeBufferSize) {
		panic(fmt.Sprintf("ring: amount written %d out of range [0,%d]", size, n.buf.layout.nodeBufferSize))
	}
	atomic.StoreUint32(&n.n.AmountWritten, uint32(size))
}

// AmountWritten returns the number of bytes written into the node.
func (n Node) AmountWritten() int {
	return int(atomic.LoadUint32(&n.n.AmountWritten))
}

// Data returns the written part of the node buffer.
func (n Node) Data() []byte {
	return n.Buffer()[:n.AmountWritten()]
}
