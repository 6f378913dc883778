package mq

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/shmrt/lib/ring"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("mq")

// MaxChunkCount is the largest number of chunks a queue can hold.
const MaxChunkCount = ring.MaxNodeCount

// Queue is a circular buffer whose nodes are wire frames ("chunks").
type Queue struct {
	buf *ring.Buffer
}

// Create creates a queue with chunkCount chunks of chunkSize bytes each,
// header included.
func Create(name string, chunkCount, chunkSize uint32) (*Queue, error) {
	if chunkSize <= ChunkHeaderSize {
		return nil, fmt.Errorf("%w: chunk size %d leaves no room for payload", ring.ErrInvalidConfig, chunkSize)
	}
	buf, err := ring.Create(name, chunkCount, chunkSize)
	if err != nil {
		return nil, err
	}
	return &Queue{buf: buf}, nil
}

// Open attaches to a queue created by another process.
func Open(name string) (*Queue, error) {
	buf, err := ring.Open(name)
	if err != nil {
		return nil, err
	}
	if buf.NodeBufferSize() <= ChunkHeaderSize {
		_ = buf.Close()
		return nil, fmt.Errorf("%w: chunk size %d leaves no room for payload", ring.ErrInvalidConfig, buf.NodeBufferSize())
	}
	return &Queue{buf: buf}, nil
}

func (q *Queue) Name() string { return q.buf.Name() }

// ChunkCapacity returns the payload bytes a single chunk can carry.
func (q *Queue) ChunkCapacity() int {
	return int(q.buf.NodeBufferSize()) - ChunkHeaderSize
}

func (q *Queue) ChunkCount() uint32 { return q.buf.NodeCount() }

// AcquireWriteChunk blocks until a chunk can be written.
func (q *Queue) AcquireWriteChunk() Chunk {
	c, _ := q.TryAcquireWriteChunk(ring.Infinite)
	return c
}

// TryAcquireWriteChunk waits up to timeout for a writable chunk.
func (q *Queue) TryAcquireWriteChunk(timeout time.Duration) (Chunk, bool) {
	n, ok := q.buf.ReserveWrite(timeout)
	return Chunk{node: n}, ok
}

// PostChunk makes a written chunk visible to readers.
func (q *Queue) PostChunk(c Chunk) {
	q.buf.Publish(c.node)
}

// AcquireReadChunk blocks until a chunk can be read.
func (q *Queue) AcquireReadChunk() Chunk {
	c, _ := q.TryAcquireReadChunk(ring.Infinite)
	return c
}

// TryAcquireReadChunk waits up to timeout for a readable chunk.
func (q *Queue) TryAcquireReadChunk(timeout time.Duration) (Chunk, bool) {
	n, ok := q.buf.ReserveRead(timeout)
	return Chunk{node: n}, ok
}

// ReturnChunk hands a read chunk back for reuse.
func (q *Queue) ReturnChunk(c Chunk) {
	q.buf.ReturnNode(c.node)
}

// DebugState returns the cursor snapshot of the underlying ring.
func (q *Queue) DebugState() ring.State {
	return q.buf.DebugState()
}

// IsClosed reports whether the queue was closed or shut down.
func (q *Queue) IsClosed() bool { return q.buf.IsStopped() }

// Shutdown fails blocked and future chunk acquisitions of this process, the
// queue memory stays mapped until Close.
func (q *Queue) Shutdown() { q.buf.Shutdown() }

func (q *Queue) Close() error  { return q.buf.Close() }
func (q *Queue) Remove() error { return q.buf.Remove() }
