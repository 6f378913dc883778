package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/serializer"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/rcrowley/go-metrics"
)

// InvokeFailure is returned when the callee answered with an InvokeError.
type InvokeFailure struct {
	Service string
	Code    common.InvokeError
	Msg     string
}

func (e *InvokeFailure) Error() string {
	return fmt.Sprintf("invoke %s failed (%s): %s", e.Service, e.Code, e.Msg)
}

// InvokeClient calls services on the other side of a channel.
type InvokeClient struct {
	rpcClientAdapter
	serializer serializer.IPayloadSerializer
	source     common.Source
	ids        *entityid.Generator
}

// NewInvokeClient creates an invoke client. Arguments and results are encoded
// with ser, message ids are drawn from ids.
func NewInvokeClient(
	channel transport.IChannel,
	ser serializer.IPayloadSerializer,
	source common.Source,
	ids *entityid.Generator,
	registry metrics.Registry,
) *InvokeClient {
	return &InvokeClient{
		rpcClientAdapter: rpcClientAdapter{channel: channel, registry: registry},
		serializer:       ser,
		source:           source,
		ids:              ids,
	}
}

// Invoke calls service with args and decodes the result into result, which
// may be nil to ignore it. A failure reported by the callee is returned as
// *InvokeFailure.
func (c *InvokeClient) Invoke(ctx context.Context, service string, args any, session *common.Session, result any) error {
	payload, err := c.serializer.Serialize(args)
	if err != nil {
		return fmt.Errorf("serialize arguments of %s: %w", service, err)
	}

	raw, err := c.InvokeRaw(ctx, service, payload, session)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := c.serializer.Deserialize(raw, result); err != nil {
		return fmt.Errorf("deserialize result of %s: %w", service, err)
	}
	return nil
}

// InvokeRaw calls service with already encoded arguments and returns the
// encoded result.
func (c *InvokeClient) InvokeRaw(ctx context.Context, service string, args []byte, session *common.Session) ([]byte, error) {
	req := &common.InvokeRequire{
		Source:      c.source,
		ContentType: c.serializer.ContentType(),
		MessageID:   c.ids.New(),
		Service:     service,
		Args:        args,
		Session:     session,
	}
	resp, err := invokeRPCRequest[*common.InvokeResponse](ctx, &c.rpcClientAdapter, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != common.InvokeErrNone {
		if c.registry != nil {
			metrics.GetOrRegisterCounter("invoke_failures."+service, c.registry).Inc(1)
		}
		return nil, &InvokeFailure{Service: service, Code: resp.Error, Msg: resp.ErrorMsg}
	}
	return resp.Result, nil
}
