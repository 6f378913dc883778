package shm

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("test_%d_%s_%d", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	t.Cleanup(func() { _ = RemoveSegment(name) })
	return name
}

func TestSegmentCreateAndOpen(t *testing.T) {
	name := uniqueName(t)

	seg, err := CreateSegment(name, 4096)
	require.NoError(t, err)
	defer seg.Close()
	assert.True(t, seg.IsOwner())
	assert.True(t, SegmentExists(name))

	seg.Header().NodeCount = 7
	seg.Header().NodeBufferSize = 128
	copy(seg.Bytes()[HeaderSize:], "hello")
	seg.MarkReady()

	other, err := OpenSegment(name)
	require.NoError(t, err)
	defer other.Close()

	assert.False(t, other.IsOwner())
	assert.Equal(t, uint32(7), other.Header().NodeCount)
	assert.Equal(t, uint32(128), other.Header().NodeBufferSize)
	assert.Equal(t, uint64(4096), other.Header().TotalSize)
	assert.Equal(t, "hello", string(other.Bytes()[HeaderSize:HeaderSize+5]))

	// writes are visible through both mappings
	other.Bytes()[HeaderSize] = 'j'
	assert.Equal(t, byte('j'), seg.Bytes()[HeaderSize])
}

func TestSegmentErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := OpenSegment(uniqueName(t))
		assert.ErrorIs(t, err, ErrSegmentNotFound)
	})

	t.Run("exists", func(t *testing.T) {
		name := uniqueName(t)
		seg, err := CreateSegment(name, 1024)
		require.NoError(t, err)
		defer seg.Close()

		_, err = CreateSegment(name, 1024)
		assert.ErrorIs(t, err, ErrSegmentExists)
	})

	t.Run("too small", func(t *testing.T) {
		_, err := CreateSegment(uniqueName(t), HeaderSize-1)
		assert.ErrorIs(t, err, ErrInvalidSegment)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := CreateSegment("a/b", 1024)
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("never ready", func(t *testing.T) {
		name := uniqueName(t)
		seg, err := CreateSegment(name, 1024)
		require.NoError(t, err)
		defer seg.Close()

		_, err = OpenSegment(name)
		assert.ErrorIs(t, err, ErrInvalidSegment)
	})
}

func TestValidateHeader(t *testing.T) {
	valid := Header{Magic: magic, Version: Version, HeaderSize: HeaderSize, TotalSize: 256}

	tests := []struct {
		name    string
		mutate  func(h *Header)
		wantErr bool
	}{
		{"valid", func(h *Header) {}, false},
		{"bad magic", func(h *Header) { h.Magic[0] = 'X' }, true},
		{"bad version", func(h *Header) { h.Version = 99 }, true},
		{"bad header size", func(h *Header) { h.HeaderSize = 32 }, true},
		{"size mismatch", func(h *Header) { h.TotalSize = 512 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := valid
			tt.mutate(&h)
			err := ValidateHeader(&h, 256)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSegment)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSemaphore(t *testing.T) {
	t.Run("initial count", func(t *testing.T) {
		sem, err := CreateSemaphore(uniqueName(t), 2)
		require.NoError(t, err)
		defer sem.Close()

		assert.True(t, sem.Wait(0))
		assert.True(t, sem.Wait(0))
		assert.False(t, sem.Wait(0))
	})

	t.Run("timeout", func(t *testing.T) {
		sem, err := CreateSemaphore(uniqueName(t), 0)
		require.NoError(t, err)
		defer sem.Close()

		start := time.Now()
		assert.False(t, sem.Wait(50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("post wakes waiter through second mapping", func(t *testing.T) {
		name := uniqueName(t)
		sem, err := CreateSemaphore(name, 0)
		require.NoError(t, err)
		defer sem.Close()

		other, err := OpenSemaphore(name)
		require.NoError(t, err)
		defer other.Close()

		done := make(chan bool)
		go func() { done <- other.Wait(5 * time.Second) }()

		time.Sleep(20 * time.Millisecond)
		sem.Post()

		select {
		case ok := <-done:
			assert.True(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter was not woken")
		}
		assert.Equal(t, uint32(0), sem.Count())
	})

	t.Run("concurrent posts", func(t *testing.T) {
		sem, err := CreateSemaphore(uniqueName(t), 0)
		require.NoError(t, err)
		defer sem.Close()

		const n = 64
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem.Post()
			}()
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.True(t, sem.Wait(time.Second))
		}
		assert.False(t, sem.Wait(0))
	})
}
