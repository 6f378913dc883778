package shm

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

// semaphoreSize is the segment size of a named semaphore: the header plus one
// cache line holding the counter.
const semaphoreSize = HeaderSize + 64

// Semaphore is a named counting semaphore that lives in its own small segment,
// so threads of different processes can block on it and wake each other.
type Semaphore struct {
	seg   *Segment
	count *uint32
}

// CreateSemaphore creates a named semaphore with the given initial count.
func CreateSemaphore(name string, initial uint32) (*Semaphore, error) {
	seg, err := CreateSegment(name, semaphoreSize)
	if err != nil {
		return nil, fmt.Errorf("create semaphore: %w", err)
	}
	s := newSemaphore(seg)
	atomic.StoreUint32(s.count, initial)
	seg.MarkReady()
	return s, nil
}

// OpenSemaphore attaches to a named semaphore created by another process.
func OpenSemaphore(name string) (*Semaphore, error) {
	seg, err := OpenSegment(name)
	if err != nil {
		return nil, fmt.Errorf("open semaphore: %w", err)
	}
	if len(seg.Bytes()) != semaphoreSize {
		_ = seg.Close()
		return nil, fmt.Errorf("%w: %s is not a semaphore", ErrInvalidSegment, name)
	}
	return newSemaphore(seg), nil
}

func newSemaphore(seg *Segment) *Semaphore {
	return &Semaphore{
		seg:   seg,
		count: (*uint32)(unsafe.Pointer(&seg.Bytes()[HeaderSize])),
	}
}

// Post increments the count and wakes one waiter.
func (s *Semaphore) Post() {
	atomic.AddUint32(s.count, 1)
	futexWake(s.count, 1)
}

// Wait decrements the count, blocking while it is zero. A negative timeout waits
// forever. It returns false if the timeout elapsed first.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if s.tryAcquire() {
			return true
		}
		remaining := time.Duration(-1)
		if timeout >= 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}
		// returns on wake, timeout, signal or a count that is no longer zero
		futexWait(s.count, 0, remaining)
	}
}

func (s *Semaphore) tryAcquire() bool {
	for {
		c := atomic.LoadUint32(s.count)
		if c == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.count, c, c-1) {
			return true
		}
	}
}

// Count returns the current count, for diagnostics only.
func (s *Semaphore) Count() uint32 {
	return atomic.LoadUint32(s.count)
}

func (s *Semaphore) Name() string {
	return s.seg.Name()
}

// Close unmaps the semaphore.
func (s *Semaphore) Close() error {
	return s.seg.Close()
}

// RemoveSemaphore unlinks a named semaphore.
func RemoveSemaphore(name string) error {
	return RemoveSegment(name)
}
