// Package nativebuf provides Owned, a move-only byte buffer used for every key,
// value, refs and filter buffer that crosses the process boundary.
//
// At any point in time an Owned buffer has exactly one owner, which is
// responsible for calling Free. Passing ownership is explicit: Move returns a new
// handle and invalidates the old one. Using a handle after Move or Free panics,
// so ownership bugs surface immediately instead of corrupting pooled memory.
//
// The zero Owned is a valid empty buffer that needs no Free.
package nativebuf

import (
	"sync"
	"sync/atomic"
)

// pooledMax is the largest buffer returned to the pool. Larger buffers are left to the GC.
const pooledMax = 64 << 10

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 256)
		return &b
	},
}

const (
	stateLive uint32 = iota
	stateMoved
	stateFreed
)

type handle struct {
	buf    []byte
	pooled *[]byte
	state  atomic.Uint32
}

// Owned is a single-owner byte buffer.
type Owned struct {
	h *handle
}

// Alloc returns an owned buffer of n zeroed bytes.
func Alloc(n int) Owned {
	if n == 0 {
		return Owned{}
	}
	h := &handle{}
	if n <= pooledMax {
		p := pool.Get().(*[]byte)
		if cap(*p) < n {
			*p = make([]byte, n)
		}
		h.pooled = p
		h.buf = (*p)[:n]
		clear(h.buf)
	} else {
		h.buf = make([]byte, n)
	}
	return Owned{h: h}
}

// From returns an owned copy of b. A nil or empty b yields the zero Owned.
func From(b []byte) Owned {
	o := Alloc(len(b))
	if len(b) > 0 {
		copy(o.h.buf, b)
	}
	return o
}

// AllocString returns an owned copy of the bytes of s.
func AllocString(s string) Owned {
	o := Alloc(len(s))
	if len(s) > 0 {
		copy(o.h.buf, s)
	}
	return o
}

func (o Owned) check(op string) {
	if o.h == nil {
		return
	}
	switch o.h.state.Load() {
	case stateMoved:
		panic("nativebuf: " + op + " on moved buffer")
	case stateFreed:
		panic("nativebuf: " + op + " on freed buffer")
	}
}

// IsNil reports whether the buffer is the zero Owned.
func (o Owned) IsNil() bool {
	return o.h == nil
}

// Bytes returns the contents. The slice is only valid until Move or Free.
func (o Owned) Bytes() []byte {
	o.check("Bytes")
	if o.h == nil {
		return nil
	}
	return o.h.buf
}

// Len returns the buffer length.
func (o Owned) Len() int {
	o.check("Len")
	if o.h == nil {
		return 0
	}
	return len(o.h.buf)
}

// Copy returns a heap copy that stays valid after Free, for callers that keep the data.
func (o Owned) Copy() []byte {
	b := o.Bytes()
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String returns the contents as a string.
func (o Owned) String() string {
	return string(o.Bytes())
}

// Move transfers ownership to the returned handle. The receiver becomes unusable.
func (o Owned) Move() Owned {
	o.check("Move")
	if o.h == nil {
		return Owned{}
	}
	moved := &handle{buf: o.h.buf, pooled: o.h.pooled}
	if !o.h.state.CompareAndSwap(stateLive, stateMoved) {
		panic("nativebuf: concurrent Move")
	}
	return Owned{h: moved}
}

// Free releases the buffer. Freeing twice is a no-op, freeing a moved handle panics.
func (o Owned) Free() {
	if o.h == nil {
		return
	}
	switch o.h.state.Load() {
	case stateFreed:
		return
	case stateMoved:
		panic("nativebuf: Free on moved buffer")
	}
	if !o.h.state.CompareAndSwap(stateLive, stateFreed) {
		return
	}
	if p := o.h.pooled; p != nil && cap(*p) <= pooledMax {
		*p = (*p)[:0]
		pool.Put(p)
	}
	o.h.buf = nil
	o.h.pooled = nil
}

// FreeAll frees every buffer in bufs.
func FreeAll(bufs ...Owned) {
	for _, b := range bufs {
		b.Free()
	}
}
