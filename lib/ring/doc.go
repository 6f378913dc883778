// Package ring implements a bounded, lock-free circular buffer over a named shared
// memory segment, usable by many goroutines in many processes at the same time.
//
// The segment layout is [Header][NodeHeader][Node x N][NodeBuffer x N]. Nodes are
// never allocated or freed individually, they form a fixed cycle and only change
// their role as the four cursors of the node header advance:
//
//	ReadEnd -> ReadStart -> WriteEnd -> WriteStart -> (back to ReadEnd)
//
// Writers reserve the node at WriteStart with a compare-and-swap, fill it and
// Publish it. Publishing sets the node's DoneWrite flag and then advances WriteEnd
// over every consecutive completed node, so readers never observe a gap. Readers
// mirror this with ReadStart, DoneRead and ReadEnd.
//
// A full buffer (the next node after WriteStart is ReadEnd) makes writers wait on
// the "{name}_evt_nodeavail" semaphore, an empty one (ReadStart == WriteEnd) makes
// readers wait on "{name}_evt_dataexists". Waiters announce themselves in the node
// header, and the goroutine that frees or publishes nodes posts the semaphore
// once per node and waiter, never more.
//
// A buffer of N nodes holds at most N-1 nodes in flight. ReadStart and
// WriteStart keep a generation counter next to the node index, which limits a
// buffer to MaxNodeCount nodes.
//
// Shutdown releases every reservation blocked in this process and makes later
// ones fail, while the memory stays mapped for nodes that are still held.
//
// A timeout is not an error: the reservation returns false, nothing is reserved
// and nothing is lost.
//
// Example:
//
//	buf, _ := ring.Create("jobs", 16, 4096)
//	defer buf.Remove()
//
//	n, ok := buf.ReserveWrite(time.Second)
//	if ok {
//		size := copy(n.Buffer(), payload)
//		n.SetAmountWritten(size)
//		buf.Publish(n)
//	}
//
//	r, ok := buf.ReserveRead(ring.Infinite)
//	process(r.Data())
//	buf.ReturnNode(r)
package ring
