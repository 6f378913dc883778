package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var (
	Logger = logger.GetLogger("worker")
)

// rpcClientAdapter holds what every client needs to issue calls.
// Used by the KV client, transactions and the invoke client with composition pattern
type rpcClientAdapter struct {
	channel  transport.IChannel
	registry metrics.Registry
}

// invokeRPCRequest is a helper function used for all clients to send requests.
// It calls req on the channel and checks that the response has the expected type.
// The caller owns the returned response and must release it.
func invokeRPCRequest[R common.Message](ctx context.Context, a *rpcClientAdapter, req common.Correlated) (R, error) {
	var zero R
	start := time.Now()

	resp, err := a.channel.Call(ctx, req)
	a.record(req.Kind(), start, err)
	if err != nil {
		return zero, err
	}

	// Check if the type of the response is the expected type
	typed, ok := resp.(R)
	if !ok {
		common.Release(resp)
		return zero, fmt.Errorf("unexpected response %s to %s", resp.Kind(), req.Kind())
	}
	return typed, nil
}

// record updates the call timer and error counter of a request kind.
func (a *rpcClientAdapter) record(kind common.MessageKind, start time.Time, err error) {
	if a.registry == nil {
		return
	}
	metrics.GetOrRegisterTimer("calls."+kind.String(), a.registry).UpdateSince(start)
	if err != nil {
		metrics.GetOrRegisterCounter("call_errors."+kind.String(), a.registry).Inc(1)
	}
}
