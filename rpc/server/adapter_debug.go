package server

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/debug"
)

func newDebugAdapter() *debugAdapterImpl {
	return &debugAdapterImpl{}
}

// debugAdapterImpl forwards debug events of the worker to the attached
// debugger bridge.
type debugAdapterImpl struct {
	bridge atomic.Pointer[debug.Bridge]
}

func (a *debugAdapterImpl) Kinds() []common.MessageKind {
	return []common.MessageKind{common.KindDebugEvent}
}

func (a *debugAdapterImpl) Handle(_ context.Context, req common.Message) common.Message {
	ev, ok := req.(*common.DebugEvent)
	if !ok {
		Logger.Errorf("debug adapter: unsupported message type %s", req.Kind())
		return nil
	}
	b := a.bridge.Load()
	if b == nil {
		Logger.Debugf("no debugger attached, dropping event of session %s", ev.Session)
		return nil
	}
	if err := b.Send(ev.Body); err != nil {
		Logger.Warningf("failed to forward debug event: %v", err)
	}
	return nil
}

// ServeDebugger attaches a debugger bridge: events of the worker go to the
// bridge, messages of the debugger go to the worker. Only one debugger can be
// attached at a time. It returns when ctx is done or the bridge is closed.
func (h *Host) ServeDebugger(ctx context.Context, b *debug.Bridge) error {
	if h.channel == nil {
		return errors.New("host has no channel")
	}
	if !h.debugger.bridge.CompareAndSwap(nil, b) {
		return errors.New("a debugger is already attached")
	}
	defer h.debugger.bridge.Store(nil)
	Logger.Infof("debugger attached to session %s", b.Session())

	for {
		body, err := b.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, debug.ErrBridgeClosed) {
				return nil
			}
			return err
		}
		if err := h.channel.Post(&common.DebugEvent{Session: b.Session(), Body: body}); err != nil {
			Logger.Warningf("failed to forward debugger message: %v", err)
		}
	}
}
