package mq

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, chunkCount, chunkSize uint32) *Queue {
	t.Helper()
	name := fmt.Sprintf("mqtest_%d_%s_%d", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	q, err := Create(name, chunkCount, chunkSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Remove() })
	return q
}

func randomPayload(size int) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(b)
	return b
}

func TestChunkHeader(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		h := ChunkHeader{Kind: 13, Flags: FlagFirst | FlagLast, MessageID: 0xDEADBEEF, Length: 12345}
		buf := make([]byte, ChunkHeaderSize)
		h.Encode(buf)

		got, err := DecodeChunkHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, h, got)
		assert.True(t, got.IsFirst())
		assert.True(t, got.IsLast())
	})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{1, FlagFirst, 0}},
		{"reserved set", []byte{1, FlagFirst, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}},
		{"first with continuation kind", []byte{KindContinuation, FlagFirst, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1}},
		{"first with zero kind", []byte{0, FlagFirst, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1}},
		{"continuation with kind", []byte{5, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChunkHeader(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedChunk)
		})
	}
}

func TestSingleChunkMessage(t *testing.T) {
	q := newTestQueue(t, 4, 64)
	w, r := NewWriter(q), NewReader(q)

	require.NoError(t, w.WriteMessage(7, []byte("hello"), time.Second))
	assert.Equal(t, uint64(1), w.ChunksWritten())

	msg, ok, err := r.ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(7), msg.Kind)
	assert.Equal(t, []byte("hello"), msg.Payload)
}

func TestEmptyMessage(t *testing.T) {
	q := newTestQueue(t, 4, 64)
	w, r := NewWriter(q), NewReader(q)

	require.NoError(t, w.WriteMessage(3, nil, time.Second))
	assert.Equal(t, 1, w.ChunksFor(0))

	msg, ok, err := r.ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(3), msg.Kind)
	assert.Empty(t, msg.Payload)
}

// a message of 2.5 chunks is split into exactly three chunks and reassembled byte for byte
func TestChunkReassembly(t *testing.T) {
	q := newTestQueue(t, 8, 256)
	w, r := NewWriter(q), NewReader(q)

	capacity := q.ChunkCapacity()
	payload := randomPayload(capacity*5/2 + 1)
	require.Equal(t, 3, w.ChunksFor(len(payload)))

	require.NoError(t, w.WriteMessage(42, payload, time.Second))
	assert.Equal(t, uint64(3), w.ChunksWritten())

	msg, ok, err := r.ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(42), msg.Kind)
	assert.True(t, bytes.Equal(payload, msg.Payload), "payload differs after reassembly")

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.ChunksRead)
	assert.Equal(t, uint64(1), stats.MessagesRead)
	assert.Equal(t, 0, stats.PendingPartials)
}

func TestChunkFraming(t *testing.T) {
	q := newTestQueue(t, 8, 128)
	w := NewWriter(q)

	capacity := q.ChunkCapacity()
	payload := randomPayload(capacity*5/2 + 1)
	require.NoError(t, w.WriteMessage(9, payload, time.Second))

	var headers []ChunkHeader
	var carried int
	for i := 0; i < 3; i++ {
		c, ok := q.TryAcquireReadChunk(time.Second)
		require.True(t, ok)
		h, err := c.Header()
		require.NoError(t, err)
		headers = append(headers, h)
		carried += len(c.Payload())
		q.ReturnChunk(c)
	}
	_, ok := q.TryAcquireReadChunk(10 * time.Millisecond)
	assert.False(t, ok, "message must occupy exactly three chunks")

	assert.Equal(t, len(payload), carried)

	assert.Equal(t, uint8(9), headers[0].Kind)
	assert.Equal(t, FlagFirst, headers[0].Flags)
	assert.Equal(t, uint32(len(payload)), headers[0].Length)

	assert.Equal(t, KindContinuation, headers[1].Kind)
	assert.Equal(t, uint8(0), headers[1].Flags)
	assert.Equal(t, uint32(capacity), headers[1].Length)

	assert.Equal(t, KindContinuation, headers[2].Kind)
	assert.Equal(t, FlagLast, headers[2].Flags)

	for _, h := range headers {
		assert.Equal(t, headers[0].MessageID, h.MessageID)
	}
}

// messages larger than the whole ring flow through as long as the reader drains it
func TestMessageLargerThanRing(t *testing.T) {
	q := newTestQueue(t, 3, 64)
	w, r := NewWriter(q), NewReader(q)

	payload := randomPayload(q.ChunkCapacity() * 20)
	errs := make(chan error, 1)
	go func() { errs <- w.WriteMessage(1, payload, time.Second) }()

	msg, ok, err := r.ReadMessage(5 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, msg.Payload)
	require.NoError(t, <-errs)
}

func TestInterleavedWriters(t *testing.T) {
	q := newTestQueue(t, 16, 64)
	w, r := NewWriter(q), NewReader(q)

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				payload := bytes.Repeat([]byte{byte(id)}, 100+j*7)
				if err := w.WriteMessage(uint8(id+1), payload, 5*time.Second); err != nil {
					t.Errorf("writer %d: %v", id, err)
					return
				}
			}
		}(i)
	}

	counts := make(map[uint8]int)
	for i := 0; i < writers*perWriter; i++ {
		msg, ok, err := r.ReadMessage(5 * time.Second)
		require.NoError(t, err)
		require.True(t, ok, "timeout after %d messages", i)
		for _, b := range msg.Payload {
			require.Equal(t, msg.Kind-1, b, "chunks of different messages were mixed")
		}
		counts[msg.Kind]++
	}
	wg.Wait()

	for id := 1; id <= writers; id++ {
		assert.Equal(t, perWriter, counts[uint8(id)])
	}
}

func TestMalformedChunkIsDropped(t *testing.T) {
	q := newTestQueue(t, 4, 64)
	w, r := NewWriter(q), NewReader(q)

	// continuation without a first chunk
	c := q.AcquireWriteChunk()
	c.fill(ChunkHeader{Kind: KindContinuation, MessageID: 999, Length: 3}, []byte("abc"))
	q.PostChunk(c)

	_, ok, err := r.ReadMessage(time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMalformedChunk)

	// the reader keeps working
	require.NoError(t, w.WriteMessage(2, []byte("next"), time.Second))
	msg, ok, err := r.ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("next"), msg.Payload)
	assert.Equal(t, uint64(1), r.Stats().MalformedChunks)
}

func TestWriteTimeout(t *testing.T) {
	q := newTestQueue(t, 2, 32)
	w := NewWriter(q)

	require.NoError(t, w.WriteMessage(1, []byte("fill"), time.Second))
	err := w.WriteMessage(1, []byte("blocked"), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, uint64(1), w.MessagesWritten())
}

func TestReadTimeout(t *testing.T) {
	q := newTestQueue(t, 2, 32)
	r := NewReader(q)

	_, ok, err := r.ReadMessage(10 * time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidKind(t *testing.T) {
	q := newTestQueue(t, 2, 32)
	w := NewWriter(q)

	assert.ErrorIs(t, w.WriteMessage(0, nil, 0), ErrInvalidKind)
	assert.ErrorIs(t, w.WriteMessage(KindContinuation, nil, 0), ErrInvalidKind)
}

func TestOpenQueue(t *testing.T) {
	q := newTestQueue(t, 4, 64)

	other, err := Open(q.Name())
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, q.ChunkCapacity(), other.ChunkCapacity())

	require.NoError(t, NewWriter(other).WriteMessage(5, []byte("from attacher"), time.Second))
	msg, ok, err := NewReader(q).ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from attacher", string(msg.Payload))
}

func TestOversizedMessageRejected(t *testing.T) {
	t.Run("announced length beyond the limit", func(t *testing.T) {
		q := newTestQueue(t, 4, 64)
		w, r := NewWriter(q), NewReader(q)

		for i := uint32(1); i <= 8; i++ {
			c := q.AcquireWriteChunk()
			c.fill(ChunkHeader{Kind: 3, Flags: FlagFirst, MessageID: i, Length: 0xFFFFFFF0}, []byte{1})
			q.PostChunk(c)

			_, ok, err := r.ReadMessage(time.Second)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrMalformedChunk)
			assert.Equal(t, 0, r.Stats().PendingPartials)
		}
		assert.Equal(t, uint64(8), r.Stats().MalformedChunks)

		require.NoError(t, w.WriteMessage(2, []byte("still fine"), time.Second))
		msg, ok, err := r.ReadMessage(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "still fine", string(msg.Payload))
	})

	t.Run("configured limit", func(t *testing.T) {
		q := newTestQueue(t, 8, 32)
		w, r := NewWriter(q), NewReader(q)
		r.SetMaxMessageSize(50)

		require.NoError(t, w.WriteMessage(1, randomPayload(51), time.Second))
		_, ok, err := r.ReadMessage(time.Second)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrMalformedChunk)

		// the continuations of the rejected message are dropped as well
		for {
			_, ok, err := r.ReadMessage(10 * time.Millisecond)
			if err == nil && !ok {
				break
			}
			assert.ErrorIs(t, err, ErrMalformedChunk)
		}

		payload := randomPayload(50)
		require.NoError(t, w.WriteMessage(1, payload, time.Second))
		msg, ok, err := r.ReadMessage(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload, msg.Payload)
	})
}

func TestStalledContinuation(t *testing.T) {
	q := newTestQueue(t, 4, 32)
	w, r := NewWriter(q), NewReader(q)
	w.SetStallTimeout(50 * time.Millisecond)

	// 5 chunks, only 3 fit while nobody reads
	start := time.Now()
	err := w.WriteMessage(9, randomPayload(5*q.ChunkCapacity()), time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(3), w.ChunksWritten())
	assert.Equal(t, uint64(0), w.MessagesWritten())

	_, ok, err := r.ReadMessage(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Stats().PendingPartials)

	// the abandoned message is evicted once its writer stayed silent long enough
	r.SetPartialTimeout(time.Minute)
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, ok, err = r.ReadMessage(0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Stats().PendingPartials)
	assert.Equal(t, uint64(1), r.Stats().EvictedPartials)

	// later messages of the same writer are unaffected
	require.NoError(t, w.WriteMessage(9, []byte("after"), time.Second))
	msg, ok, err := r.ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "after", string(msg.Payload))
}

func TestPartialKeptWithinTimeout(t *testing.T) {
	q := newTestQueue(t, 8, 32)
	r := NewReader(q)
	r.SetPartialTimeout(time.Minute)

	c := q.AcquireWriteChunk()
	c.fill(ChunkHeader{Kind: 4, Flags: FlagFirst, MessageID: 1, Length: 8}, []byte("half"))
	q.PostChunk(c)
	_, ok, err := r.ReadMessage(20 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	r.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	c = q.AcquireWriteChunk()
	c.fill(ChunkHeader{Kind: KindContinuation, Flags: FlagLast, MessageID: 1, Length: 4}, []byte("done"))
	q.PostChunk(c)

	msg, ok, err := r.ReadMessage(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "halfdone", string(msg.Payload))
	assert.Equal(t, uint64(0), r.Stats().EvictedPartials)
}

func TestShutdownFailsBlockedWriter(t *testing.T) {
	q := newTestQueue(t, 2, 32)
	w := NewWriter(q)
	require.NoError(t, w.WriteMessage(1, []byte("fill"), time.Second))

	result := make(chan error, 1)
	go func() { result <- w.WriteMessage(1, []byte("blocked"), -1) }()

	time.Sleep(50 * time.Millisecond)
	q.Shutdown()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("writer still blocked after Shutdown")
	}
	assert.True(t, q.IsClosed())
}
