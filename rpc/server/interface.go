package server

import (
	"context"

	"github.com/ValentinKolb/shmrt/rpc/common"
)

// IHostAdapter handles one family of catalog messages on the host.
type IHostAdapter interface {
	// Kinds lists the message kinds routed to the adapter
	Kinds() []common.MessageKind
	// Handle handles a request and returns the response.
	// Events return nil. Failures are reported inside the response.
	Handle(ctx context.Context, req common.Message) (resp common.Message)
}
