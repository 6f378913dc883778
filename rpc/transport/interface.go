package transport

import (
	"context"
	"errors"

	"github.com/ValentinKolb/shmrt/rpc/common"
)

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("channel closed")
	// ErrTimeout is returned when a call or write does not complete in time.
	ErrTimeout = errors.New("channel timeout")
	// ErrTooLarge is returned by Post for messages above the channel limit.
	ErrTooLarge = errors.New("message too large")
)

// HandleFunc handles one incoming request or event. A non nil return value is
// posted back to the peer and released by the channel afterwards. The request
// is released once the handler returns, so handlers must copy what they keep.
type HandleFunc func(ctx context.Context, msg common.Message) common.Message

// Stats is a snapshot of channel counters.
type Stats struct {
	Pending        int    // calls waiting for a response
	Outbox         int    // messages waiting for the writer
	Sent           uint64 // messages written to the outgoing queue
	Received       uint64 // messages read from the incoming queue
	UnknownTokens  uint64 // responses without a pending call
	ProtocolErrors uint64 // malformed chunks and undecodable messages
	AvgMessageSize int
	P99MessageSize int
}

// IChannel is one side of a bidirectional message channel between a host and
// a worker. Both sides may issue calls and handle requests.
type IChannel interface {
	// Call assigns a fresh token to req, posts it and waits for the response
	// with the same token. The caller owns the returned message.
	Call(ctx context.Context, req common.Correlated) (common.Message, error)
	// Post writes a message without waiting for a response.
	Post(msg common.Message) error
	// RegisterHandler sets the handler for incoming requests and events.
	RegisterHandler(handler HandleFunc)
	// Serve reads incoming messages until ctx is done or the channel is closed.
	Serve(ctx context.Context) error
	// Stats returns the channel counters.
	Stats() Stats
	// Close stops the channel. The side that created the queues removes them.
	Close() error
}
