package mq

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/shmrt/lib/ring"
)

var (
	ErrTimeout     = errors.New("mq: timeout")
	ErrClosed      = errors.New("mq: queue closed")
	ErrInvalidKind = errors.New("mq: invalid message kind")
)

// Writer splits messages into chunks and posts them to a queue.
// It is safe for concurrent use.
type Writer struct {
	q      *Queue
	nextID atomic.Uint32
	stall  atomic.Int64

	chunks   atomic.Uint64
	messages atomic.Uint64
}

func NewWriter(q *Queue) *Writer {
	w := &Writer{q: q}
	w.stall.Store(int64(ring.Infinite))
	return w
}

// SetStallTimeout bounds the wait for each chunk after the first one. By
// default it is ring.Infinite. A reader that stops consuming in the middle of
// a message then fails the write instead of blocking it forever.
func (w *Writer) SetStallTimeout(d time.Duration) {
	w.stall.Store(int64(d))
}

// WriteMessage posts payload as one logical message of the given kind. The
// message spans ceil(len(payload)/ChunkCapacity) chunks, at least one. The first
// chunk carries the kind and the total length, later chunks are marked as
// continuations.
//
// timeout bounds the wait for the first chunk. Each later chunk waits up to the
// stall timeout. A message abandoned after its first chunk is left to the
// reader, which evicts it once its partial timeout elapses.
func (w *Writer) WriteMessage(kind uint8, payload []byte, timeout time.Duration) error {
	if kind == 0 || kind == KindContinuation {
		return fmt.Errorf("%w: %#x", ErrInvalidKind, kind)
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("mq: message of %d bytes exceeds the length field", len(payload))
	}

	capacity := w.q.ChunkCapacity()
	id := w.nextID.Add(1)
	total := len(payload)

	for off, first := 0, true; first || off < total; first = false {
		wait := time.Duration(w.stall.Load())
		if first {
			wait = timeout
		}
		c, ok := w.q.TryAcquireWriteChunk(wait)
		if !ok {
			err := ErrTimeout
			if w.q.IsClosed() {
				err = ErrClosed
			}
			if first {
				return err
			}
			return fmt.Errorf("%w: message %d abandoned after %d of %d bytes", err, id, off, total)
		}

		n := min(capacity, total-off)
		h := ChunkHeader{Kind: KindContinuation, MessageID: id, Length: uint32(n)}
		if first {
			h.Kind = kind
			h.Flags |= FlagFirst
			h.Length = uint32(total)
		}
		if off+n == total {
			h.Flags |= FlagLast
		}

		c.fill(h, payload[off:off+n])
		w.q.PostChunk(c)
		w.chunks.Add(1)
		off += n
	}

	w.messages.Add(1)
	return nil
}

// ChunksFor returns the number of chunks a payload of the given size occupies.
func (w *Writer) ChunksFor(size int) int {
	capacity := w.q.ChunkCapacity()
	if size == 0 {
		return 1
	}
	return (size + capacity - 1) / capacity
}

// ChunksWritten returns the number of chunks posted so far.
func (w *Writer) ChunksWritten() uint64 { return w.chunks.Load() }

// MessagesWritten returns the number of complete messages posted so far.
func (w *Writer) MessagesWritten() uint64 { return w.messages.Load() }
