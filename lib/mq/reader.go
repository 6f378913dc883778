package mq

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/shmrt/lib/ring"
)

// Message is a reassembled logical message. Payload is owned by the receiver,
// it does not alias queue memory.
type Message struct {
	Kind    uint8
	ID      uint32
	Payload []byte
}

const (
	// DefaultMaxMessageSize is the largest total length a Reader accepts unless
	// configured otherwise.
	DefaultMaxMessageSize = 64 << 20
	// DefaultPartialTimeout is how long a partial message may go without a new
	// chunk before it is evicted.
	DefaultPartialTimeout = 30 * time.Second

	// preallocChunks caps the buffer reserved up front for a multi-chunk message
	preallocChunks = 16
)

type partial struct {
	kind     uint8
	total    int
	payload  []byte
	lastSeen time.Time
}

// Reader reassembles chunks into messages. Partial messages are tracked per
// message id so chunks of concurrent writers may interleave. A Reader must only
// be used by one goroutine.
type Reader struct {
	q       *Queue
	partial map[uint32]*partial

	maxMessageSize int
	partialTimeout time.Duration
	now            func() time.Time

	chunks    atomic.Uint64
	messages  atomic.Uint64
	malformed atomic.Uint64
	evicted   atomic.Uint64
	pending   atomic.Int64
}

func NewReader(q *Queue) *Reader {
	return &Reader{
		q:              q,
		partial:        make(map[uint32]*partial),
		maxMessageSize: DefaultMaxMessageSize,
		partialTimeout: DefaultPartialTimeout,
		now:            time.Now,
	}
}

// SetMaxMessageSize sets the largest total length a first chunk may announce.
// Larger announcements are dropped as malformed. It must be called before the
// first ReadMessage.
func (r *Reader) SetMaxMessageSize(n int) {
	if n > 0 {
		r.maxMessageSize = n
	}
}

// SetPartialTimeout sets how long a partial message may go without a new chunk
// before it is evicted. It must be called before the first ReadMessage.
func (r *Reader) SetPartialTimeout(d time.Duration) {
	if d > 0 {
		r.partialTimeout = d
	}
}

// ReadMessage reads chunks until a message is complete or the timeout elapses.
// A timeout returns ok == false and keeps any partial messages for the next call.
// A malformed chunk is dropped and reported as an ErrMalformedChunk error, the
// reader stays usable afterwards.
func (r *Reader) ReadMessage(timeout time.Duration) (Message, bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	r.evictStale()

	for {
		wait := ring.Infinite
		if timeout >= 0 {
			if wait = time.Until(deadline); wait < 0 {
				wait = 0
			}
		}

		c, got := r.q.TryAcquireReadChunk(wait)
		if !got {
			return Message{}, false, nil
		}
		msg, complete, err := r.consume(c)
		// the chunk content is copied out, free the node for writers right away
		r.q.ReturnChunk(c)
		r.chunks.Add(1)
		r.pending.Store(int64(len(r.partial)))

		if err != nil {
			r.malformed.Add(1)
			return Message{}, false, err
		}
		if complete {
			r.messages.Add(1)
			return msg, true, nil
		}
	}
}

func (r *Reader) consume(c Chunk) (Message, bool, error) {
	h, err := c.Header()
	if err != nil {
		return Message{}, false, err
	}
	data := c.Payload()

	if h.IsFirst() {
		total := int(h.Length)
		if total > r.maxMessageSize {
			delete(r.partial, h.MessageID)
			return Message{}, false, fmt.Errorf("%w: message %d announces %d bytes, limit is %d", ErrMalformedChunk, h.MessageID, total, r.maxMessageSize)
		}
		if len(data) > total {
			return Message{}, false, fmt.Errorf("%w: first chunk of message %d carries %d bytes of %d", ErrMalformedChunk, h.MessageID, len(data), total)
		}
		if _, exists := r.partial[h.MessageID]; exists {
			delete(r.partial, h.MessageID)
			Logger.Warningf("message %d restarted before completion, dropping the partial message", h.MessageID)
		}

		// the total comes from the peer, grow towards it instead of trusting it
		payload := make([]byte, len(data), min(total, preallocChunks*r.q.ChunkCapacity()))
		copy(payload, data)
		if len(payload) == total {
			if !h.IsLast() {
				return Message{}, false, fmt.Errorf("%w: complete message %d not marked last", ErrMalformedChunk, h.MessageID)
			}
			return Message{Kind: h.Kind, ID: h.MessageID, Payload: payload}, true, nil
		}
		if h.IsLast() {
			return Message{}, false, fmt.Errorf("%w: message %d marked last with %d of %d bytes", ErrMalformedChunk, h.MessageID, len(payload), total)
		}
		r.partial[h.MessageID] = &partial{kind: h.Kind, total: total, payload: payload, lastSeen: r.now()}
		return Message{}, false, nil
	}

	p, exists := r.partial[h.MessageID]
	if !exists {
		return Message{}, false, fmt.Errorf("%w: continuation of unknown message %d", ErrMalformedChunk, h.MessageID)
	}
	if int(h.Length) != len(data) {
		delete(r.partial, h.MessageID)
		return Message{}, false, fmt.Errorf("%w: continuation length %d does not match %d bytes written", ErrMalformedChunk, h.Length, len(data))
	}
	if len(p.payload)+len(data) > p.total {
		delete(r.partial, h.MessageID)
		return Message{}, false, fmt.Errorf("%w: message %d overflows its total length %d", ErrMalformedChunk, h.MessageID, p.total)
	}

	p.payload = append(p.payload, data...)
	p.lastSeen = r.now()
	if len(p.payload) < p.total {
		return Message{}, false, nil
	}
	delete(r.partial, h.MessageID)
	if !h.IsLast() {
		return Message{}, false, fmt.Errorf("%w: complete message %d not marked last", ErrMalformedChunk, h.MessageID)
	}
	return Message{Kind: p.kind, ID: h.MessageID, Payload: p.payload}, true, nil
}

// evictStale drops partial messages that received no chunk within the partial
// timeout, typically because their writer gave up or died.
func (r *Reader) evictStale() {
	if len(r.partial) == 0 {
		return
	}
	now := r.now()
	for id, p := range r.partial {
		if now.Sub(p.lastSeen) < r.partialTimeout {
			continue
		}
		delete(r.partial, id)
		r.evicted.Add(1)
		Logger.Warningf("evicting partial message %d after %v without a chunk (%d of %d bytes)", id, now.Sub(p.lastSeen).Round(time.Millisecond), len(p.payload), p.total)
	}
	r.pending.Store(int64(len(r.partial)))
}

// Stats is a snapshot of reader counters.
type Stats struct {
	ChunksRead      uint64
	MessagesRead    uint64
	MalformedChunks uint64
	EvictedPartials uint64
	PendingPartials int
}

// Stats returns the reader counters. It may be called from any goroutine.
func (r *Reader) Stats() Stats {
	return Stats{
		ChunksRead:      r.chunks.Load(),
		MessagesRead:    r.messages.Load(),
		MalformedChunks: r.malformed.Load(),
		EvictedPartials: r.evicted.Load(),
		PendingPartials: int(r.pending.Load()),
	}
}
