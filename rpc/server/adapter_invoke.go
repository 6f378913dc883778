package server

import (
	"context"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/service"
)

func newInvokeAdapter(services *service.Registry) IHostAdapter {
	return &invokeAdapterImpl{services: services}
}

// invokeAdapterImpl serves calls of workers into host services.
type invokeAdapterImpl struct {
	services *service.Registry
}

func (a *invokeAdapterImpl) Kinds() []common.MessageKind {
	return []common.MessageKind{common.KindInvokeRequire}
}

func (a *invokeAdapterImpl) Handle(ctx context.Context, req common.Message) common.Message {
	m, ok := req.(*common.InvokeRequire)
	if !ok {
		Logger.Errorf("invoke adapter: unsupported message type %s", req.Kind())
		return nil
	}
	return a.services.Handle(ctx, m)
}
