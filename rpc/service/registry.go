package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("service")

var (
	// ErrBadArgs reports arguments the service could not decode.
	ErrBadArgs = errors.New("bad arguments")
	// ErrSessionNotFound reports a call that needs a session the service does not know.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBadResult reports a result that could not be encoded.
	ErrBadResult = errors.New("result not serializable")
)

// Call is one invocation as seen by a service.
type Call struct {
	Source      common.Source
	ContentType common.ContentType
	MessageID   entityid.ID
	Args        []byte
	Session     *common.Session
}

// Func implements a service. The returned bytes are sent back unchanged and
// must be encoded with call.ContentType.
type Func func(ctx context.Context, call Call) ([]byte, error)

// Registry maps service names to implementations and answers InvokeRequire.
type Registry struct {
	source   common.Source
	services *xsync.MapOf[string, Func]
}

// NewRegistry creates an empty registry. source is written into every response.
func NewRegistry(source common.Source) *Registry {
	return &Registry{source: source, services: xsync.NewMapOf[string, Func]()}
}

// Register adds or replaces a service.
func (r *Registry) Register(name string, fn Func) {
	r.services.Store(name, fn)
	Logger.Debugf("registered service %q", name)
}

// Unregister removes a service.
func (r *Registry) Unregister(name string) {
	r.services.Delete(name)
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.services.Size())
	r.services.Range(func(name string, _ Func) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Handle runs the requested service and builds the response. It never fails,
// every problem is reported through InvokeResponse.Error.
func (r *Registry) Handle(ctx context.Context, req *common.InvokeRequire) *common.InvokeResponse {
	resp := &common.InvokeResponse{
		Source:      r.source,
		ContentType: req.ContentType,
		Token:       req.Token,
		MessageID:   req.MessageID,
	}

	fn, ok := r.services.Load(req.Service)
	if !ok {
		resp.Error = common.InvokeErrServiceNotFound
		resp.ErrorMsg = fmt.Sprintf("service %q not found", req.Service)
		return resp
	}

	result, err := run(ctx, fn, Call{
		Source:      req.Source,
		ContentType: req.ContentType,
		MessageID:   req.MessageID,
		Args:        req.Args,
		Session:     req.Session,
	})
	if err != nil {
		resp.Error = errorCode(err)
		resp.ErrorMsg = err.Error()
		Logger.Debugf("service %q failed: %v", req.Service, err)
		return resp
	}
	resp.Result = result
	return resp
}

func run(ctx context.Context, fn Func, call Call) (result []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("service panicked: %v", p)
		}
	}()
	return fn(ctx, call)
}

func errorCode(err error) common.InvokeError {
	switch {
	case errors.Is(err, ErrBadArgs):
		return common.InvokeErrDeserializeRequestFailed
	case errors.Is(err, ErrSessionNotFound):
		return common.InvokeErrSessionNotFound
	case errors.Is(err, ErrBadResult):
		return common.InvokeErrSerializeResponseFailed
	default:
		return common.InvokeErrServiceInnerError
	}
}

// --------------------------------------------------------------------------
// Typed services
// --------------------------------------------------------------------------

// Typed adapts a function on decoded values to a Func. Arguments and result
// use the serializer matching the content type of the call.
func Typed[A, R any](fn func(ctx context.Context, call Call, args A) (R, error)) Func {
	return func(ctx context.Context, call Call) ([]byte, error) {
		ser, err := serializer.ForContentType(call.ContentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
		}

		var args A
		if len(call.Args) > 0 {
			if err := ser.Deserialize(call.Args, &args); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
			}
		}

		res, err := fn(ctx, call, args)
		if err != nil {
			return nil, err
		}

		out, err := ser.Serialize(res)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResult, err)
		}
		return out, nil
	}
}
