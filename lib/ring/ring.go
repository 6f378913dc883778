package ring

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ValentinKolb/shmrt/lib/shm"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("ring")

// Infinite makes reservations block until a node becomes available.
const Infinite time.Duration = -1

var ErrInvalidConfig = errors.New("ring: invalid configuration")

// waitSlice bounds a single semaphore wait, so a waiter whose wake-up went to
// another waiter re-checks the buffer and notices Shutdown.
const waitSlice = 100 * time.Millisecond

// DataExistsName and NodeAvailName return the names of the two semaphores of a buffer.
func DataExistsName(name string) string { return name + "_evt_dataexists" }
func NodeAvailName(name string) string  { return name + "_evt_nodeavail" }

// --------------------------------------------------------------------------
// Buffer
// --------------------------------------------------------------------------

// Buffer is a fixed-node lock-free circular buffer in a shared memory segment.
// Any goroutine in any attached process may reserve nodes for writing or reading
// concurrently. Only blocking on a full or empty buffer goes through the named
// semaphores, every other transition is a compare-and-swap on the node header.
type Buffer struct {
	name       string
	seg        *shm.Segment
	layout     layout
	hdr        *nodeHeader
	nodes      []node
	mem        []byte
	dataExists *shm.Semaphore
	nodeAvail  *shm.Semaphore
	stopped    atomic.Bool
	closed     atomic.Bool
}

// Create creates a new buffer and both of its semaphores. The caller owns them
// and should Remove them once no process needs the buffer any more.
func Create(name string, nodeCount, nodeBufferSize uint32) (*Buffer, error) {
	l, err := computeLayout(nodeCount, nodeBufferSize)
	if err != nil {
		return nil, err
	}

	seg, err := shm.CreateSegment(name, l.totalSize)
	if err != nil {
		return nil, err
	}
	dataExists, err := shm.CreateSemaphore(DataExistsName(name), 0)
	if err != nil {
		_ = seg.Close()
		_ = shm.RemoveSegment(name)
		return nil, err
	}
	nodeAvail, err := shm.CreateSemaphore(NodeAvailName(name), 0)
	if err != nil {
		_ = dataExists.Close()
		_ = shm.RemoveSemaphore(DataExistsName(name))
		_ = seg.Close()
		_ = shm.RemoveSegment(name)
		return nil, err
	}

	b := newBuffer(name, seg, l, dataExists, nodeAvail)

	// fixed circular topology
	n := l.nodeCount
	for i := uint32(0); i < n; i++ {
		nd := &b.nodes[i]
		nd.Index = i
		nd.Next = (i + 1) % n
		nd.Prev = (i + n - 1) % n
		nd.Offset = uint64(l.buffersOff + int(i)*l.bufferStride)
	}
	b.hdr.NodeCount = n
	b.hdr.NodeBufferSize = l.nodeBufferSize

	h := seg.Header()
	h.NodeCount = n
	h.NodeBufferSize = l.nodeBufferSize
	seg.MarkReady()

	Logger.Infof("created ring %s (%d nodes x %d bytes, %d bytes total)", name, n, l.nodeBufferSize, l.totalSize)
	return b, nil
}

// Open attaches to a buffer created by another process and discovers its
// geometry from the segment header.
func Open(name string) (*Buffer, error) {
	seg, err := shm.OpenSegment(name)
	if err != nil {
		return nil, err
	}
	h := seg.Header()
	l, err := computeLayout(h.NodeCount, h.NodeBufferSize)
	if err != nil {
		_ = seg.Close()
		return nil, err
	}
	if l.totalSize != len(seg.Bytes()) {
		_ = seg.Close()
		return nil, fmt.Errorf("%w: ring %s expects %d bytes, segment has %d", shm.ErrInvalidSegment, name, l.totalSize, len(seg.Bytes()))
	}

	dataExists, err := shm.OpenSemaphore(DataExistsName(name))
	if err != nil {
		_ = seg.Close()
		return nil, err
	}
	nodeAvail, err := shm.OpenSemaphore(NodeAvailName(name))
	if err != nil {
		_ = dataExists.Close()
		_ = seg.Close()
		return nil, err
	}

	b := newBuffer(name, seg, l, dataExists, nodeAvail)
	Logger.Debugf("attached ring %s (%d nodes x %d bytes)", name, l.nodeCount, l.nodeBufferSize)
	return b, nil
}

func newBuffer(name string, seg *shm.Segment, l layout, dataExists, nodeAvail *shm.Semaphore) *Buffer {
	mem := seg.Bytes()
	return &Buffer{
		name:       name,
		seg:        seg,
		layout:     l,
		hdr:        (*nodeHeader)(unsafe.Pointer(&mem[l.nodeHeaderOff])),
		nodes:      unsafe.Slice((*node)(unsafe.Pointer(&mem[l.nodesOff])), l.nodeCount),
		mem:        mem,
		dataExists: dataExists,
		nodeAvail:  nodeAvail,
	}
}

func (b *Buffer) Name() string           { return b.name }
func (b *Buffer) NodeCount() uint32      { return b.layout.nodeCount }
func (b *Buffer) NodeBufferSize() uint32 { return b.layout.nodeBufferSize }
func (b *Buffer) IsOwner() bool          { return b.seg.IsOwner() }
func (b *Buffer) IsClosed() bool         { return b.closed.Load() }
func (b *Buffer) IsStopped() bool        { return b.stopped.Load() || b.closed.Load() }

// Shutdown makes blocked and future reservations of this process fail. The
// buffer stays mapped, so nodes already reserved can still be published or
// returned. Waiters of other processes attached to the buffer only see a
// spurious wake-up.
func (b *Buffer) Shutdown() {
	if !b.stopped.CompareAndSwap(false, true) {
		return
	}
	wake(&b.hdr.WritersWaiting, b.nodeAvail, b.layout.nodeCount)
	wake(&b.hdr.ReadersWaiting, b.dataExists, b.layout.nodeCount)
}

// Close unmaps the buffer and its semaphores. Nodes still held become invalid.
func (b *Buffer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(b.dataExists.Close(), b.nodeAvail.Close(), b.seg.Close())
}

// Remove closes the buffer and unlinks the segment and its semaphores.
func (b *Buffer) Remove() error {
	return errors.Join(b.Close(), Remove(b.name))
}

// Remove unlinks the segment and semaphores of a buffer by name, for example to
// clean up after a crashed owner.
func Remove(name string) error {
	return errors.Join(
		shm.RemoveSegment(name),
		shm.RemoveSemaphore(DataExistsName(name)),
		shm.RemoveSemaphore(NodeAvailName(name)),
	)
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// ReserveWrite reserves the node at WriteStart for writing. If the buffer is full
// it waits up to timeout for a reader to return a node. A timeout or Shutdown
// reserves nothing and returns false.
func (b *Buffer) ReserveWrite(timeout time.Duration) (Node, bool) {
	deadline := deadlineFor(timeout)
	var backoff uint8
	for {
		if b.IsStopped() {
			return Node{}, false
		}
		cur := atomic.LoadUint32(&b.hdr.WriteStart)
		nd := &b.nodes[cursorIndex(cur)]

		if nd.Next == atomic.LoadUint32(&b.hdr.ReadEnd) {
			if !b.waitFor(&b.hdr.WritersWaiting, b.isFull, b.nodeAvail, deadline) {
				return Node{}, false
			}
			continue
		}

		// fails if WriteStart moved on, even if it wrapped back to the same node
		if atomic.CompareAndSwapUint32(&b.hdr.WriteStart, cur, advanceCursor(cur, nd.Next)) {
			return Node{buf: b, n: nd}, true
		}
		// another writer took this node
		spin(&backoff)
	}
}

// Publish makes a written node visible to readers. Visibility only advances over
// a contiguous run of completed nodes starting at WriteEnd, so a node finished out
// of order stays hidden until every node before it is published as well.
func (b *Buffer) Publish(n Node) {
	atomic.StoreUint32(&n.n.DoneWrite, 1)

	var advanced uint32
	for {
		idx := atomic.LoadUint32(&b.hdr.WriteEnd)
		nd := &b.nodes[idx]
		if !atomic.CompareAndSwapUint32(&nd.DoneWrite, 1, 0) {
			break
		}
		// only the goroutine that cleared DoneWrite of idx moves WriteEnd off idx
		if !atomic.CompareAndSwapUint32(&b.hdr.WriteEnd, idx, nd.Next) {
			break
		}
		advanced++
	}

	if advanced > 0 {
		wake(&b.hdr.ReadersWaiting, b.dataExists, advanced)
	}
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// ReserveRead reserves the next readable node. If no data is available it waits
// up to timeout for a writer to publish one. A timeout or Shutdown reserves
// nothing and returns false.
func (b *Buffer) ReserveRead(timeout time.Duration) (Node, bool) {
	deadline := deadlineFor(timeout)
	var backoff uint8
	for {
		if b.IsStopped() {
			return Node{}, false
		}
		cur := atomic.LoadUint32(&b.hdr.ReadStart)
		idx := cursorIndex(cur)
		nd := &b.nodes[idx]

		if idx == atomic.LoadUint32(&b.hdr.WriteEnd) {
			if !b.waitFor(&b.hdr.ReadersWaiting, b.isEmpty, b.dataExists, deadline) {
				return Node{}, false
			}
			continue
		}

		if atomic.CompareAndSwapUint32(&b.hdr.ReadStart, cur, advanceCursor(cur, nd.Next)) {
			return Node{buf: b, n: nd}, true
		}
		// another reader took this node
		spin(&backoff)
	}
}

// ReturnNode hands a read node back for reuse. Like Publish, ReadEnd only advances
// over a contiguous run of returned nodes.
func (b *Buffer) ReturnNode(n Node) {
	atomic.StoreUint32(&n.n.DoneRead, 1)

	var advanced uint32
	for {
		idx := atomic.LoadUint32(&b.hdr.ReadEnd)
		nd := &b.nodes[idx]
		if !atomic.CompareAndSwapUint32(&nd.DoneRead, 1, 0) {
			break
		}
		if !atomic.CompareAndSwapUint32(&b.hdr.ReadEnd, idx, nd.Next) {
			break
		}
		advanced++
	}

	if advanced > 0 {
		wake(&b.hdr.WritersWaiting, b.nodeAvail, advanced)
	}
}

// --------------------------------------------------------------------------
// Blocking
// --------------------------------------------------------------------------

func (b *Buffer) isFull() bool {
	idx := cursorIndex(atomic.LoadUint32(&b.hdr.WriteStart))
	return b.nodes[idx].Next == atomic.LoadUint32(&b.hdr.ReadEnd)
}

func (b *Buffer) isEmpty() bool {
	return cursorIndex(atomic.LoadUint32(&b.hdr.ReadStart)) == atomic.LoadUint32(&b.hdr.WriteEnd)
}

// waitFor registers as a waiter, re-checks the condition and blocks on sem.
// The waiter counter is incremented before the re-check so a concurrent Publish,
// ReturnNode or Shutdown either sees the waiter and posts, or the re-check sees
// its effect. It returns true when the caller should retry the reservation.
func (b *Buffer) waitFor(waiting *uint32, blocked func() bool, sem *shm.Semaphore, deadline time.Time) bool {
	atomic.AddUint32(waiting, 1)
	for {
		if b.IsStopped() {
			cancelWait(waiting)
			return false
		}
		if !blocked() {
			cancelWait(waiting)
			return true
		}

		slice := waitSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				cancelWait(waiting)
				return false
			}
			slice = min(slice, remaining)
		}
		if sem.Wait(slice) {
			return true
		}
	}
}

// cancelWait undoes a waiter registration unless a waker already consumed it.
// A consumed registration leaves one spare post on the semaphore, which only
// causes a spurious wake-up and a re-check.
func cancelWait(waiting *uint32) {
	for {
		w := atomic.LoadUint32(waiting)
		if w == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(waiting, w, w-1) {
			return
		}
	}
}

// wake posts sem once per freed node that a registered waiter is waiting for,
// never more often than there are waiters.
func wake(waiting *uint32, sem *shm.Semaphore, freed uint32) {
	for ; freed > 0; freed-- {
		w := atomic.LoadUint32(waiting)
		if w == 0 {
			return
		}
		if !atomic.CompareAndSwapUint32(waiting, w, w-1) {
			freed++ // retry this slot
			continue
		}
		sem.Post()
	}
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// spin backs off exponentially under contention, first by yielding a growing
// number of times and then by yielding once per retry.
func spin(backoff *uint8) {
	if *backoff < 10 {
		*backoff++
		for i := 0; i < 1<<*backoff; i++ {
			runtime.Gosched()
		}
	}
	runtime.Gosched()
}

// --------------------------------------------------------------------------
// Diagnostics
// --------------------------------------------------------------------------

// State is a snapshot of the node header.
type State struct {
	ReadStart      uint32
	ReadEnd        uint32
	WriteStart     uint32
	WriteEnd       uint32
	WritersWaiting uint32
	ReadersWaiting uint32
}

func (s State) String() string {
	return fmt.Sprintf("read=[%d,%d) write=[%d,%d) waiting(w=%d r=%d)",
		s.ReadEnd, s.ReadStart, s.WriteEnd, s.WriteStart, s.WritersWaiting, s.ReadersWaiting)
}

// DebugState returns the current cursors. The fields are loaded one by one, so
// under concurrent use the snapshot is not atomic as a whole.
func (b *Buffer) DebugState() State {
	return State{
		ReadStart:      cursorIndex(atomic.LoadUint32(&b.hdr.ReadStart)),
		ReadEnd:        atomic.LoadUint32(&b.hdr.ReadEnd),
		WriteStart:     cursorIndex(atomic.LoadUint32(&b.hdr.WriteStart)),
		WriteEnd:       atomic.LoadUint32(&b.hdr.WriteEnd),
		WritersWaiting: atomic.LoadUint32(&b.hdr.WritersWaiting),
		ReadersWaiting: atomic.LoadUint32(&b.hdr.ReadersWaiting),
	}
}
