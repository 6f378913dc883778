// Package shm implements transport.IChannel over a pair of shared memory
// message queues (package mq).
//
// The host calls Listen, which creates <name>_h2w and <name>_w2h. The worker
// calls Dial to open them. Each side writes one queue and reads the other.
//
// Outgoing messages pass through a lock free outbox drained by a single
// writer goroutine, so chunks of one message are written back to back. Serve
// runs the dispatcher: responses are matched to pending calls by token,
// requests and events are handed to the registered handler on a bounded pool
// of goroutines. A response whose token has no pending call is logged and
// dropped.
package shm
