// Package shm provides named shared-memory segments and named counting semaphores
// that can be used by several processes on the same machine.
//
// Segments are backed by files under /dev/shm (or the temp directory where
// /dev/shm is not available) and mapped MAP_SHARED. Every segment starts with a
// fixed 64 byte Header that the owner writes once; attaching processes validate
// it and discover the layout of whatever structure lives behind it.
//
// Semaphores are segments holding a single counter. On Linux, waiting blocks on a
// shared futex so that a Post from any process wakes a waiter in any other process.
// Other platforms fall back to short polling sleeps.
//
// Failing to create or attach a segment is a construction-time error. A segment
// that disappears because the peer crashed is never recreated implicitly.
package shm
