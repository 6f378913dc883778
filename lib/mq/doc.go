// Package mq specializes the shared memory ring of package ring into a message
// queue whose nodes are fixed-size wire frames called chunks.
//
// The chunk-level API (AcquireWriteChunk, PostChunk, AcquireReadChunk,
// ReturnChunk) blocks without bound, because delivery is expected to succeed as
// long as both processes are alive. Dispatch loops that need to observe shutdown
// use the Try variants with a bounded timeout instead.
//
// On top of chunks, Writer and Reader move logical messages of any size. A
// message larger than one chunk is split over consecutive chunks: the first one
// carries the message kind and the total length, every following chunk only a
// continuation marker and its own length. The reader accumulates chunks per
// message id until the total length is reached and then hands out the message
// exactly once. Messages whose writer gave up halfway are evicted after
// the partial timeout of the reader.
package mq
