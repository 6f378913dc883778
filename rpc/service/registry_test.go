package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sumArgs struct {
	A, B int
}

type sumResult struct {
	Sum int
}

func newRegistry() *Registry {
	r := NewRegistry(common.SourceWorker)
	r.Register("sum", Typed(func(_ context.Context, _ Call, args sumArgs) (sumResult, error) {
		return sumResult{Sum: args.A + args.B}, nil
	}))
	r.Register("session", func(_ context.Context, call Call) ([]byte, error) {
		if call.Session == nil {
			return nil, fmt.Errorf("call without session: %w", ErrSessionNotFound)
		}
		return []byte(call.Session.Tag), nil
	})
	r.Register("panic", func(context.Context, Call) ([]byte, error) {
		panic("broken")
	})
	r.Register("unencodable", Typed(func(context.Context, Call, struct{}) (func(), error) {
		return func() {}, nil
	}))
	return r
}

func TestNames(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, []string{"panic", "session", "sum", "unencodable"}, r.Names())

	r.Unregister("panic")
	assert.NotContains(t, r.Names(), "panic")
}

func TestTypedRoundTrip(t *testing.T) {
	r := newRegistry()
	for _, ct := range []common.ContentType{common.ContentJSON, common.ContentBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			ser, err := serializer.ForContentType(ct)
			require.NoError(t, err)
			args, err := ser.Serialize(sumArgs{A: 2, B: 40})
			require.NoError(t, err)

			id := entityid.NewGenerator(4).New()
			resp := r.Handle(context.Background(), &common.InvokeRequire{
				ContentType: ct, Token: 9, MessageID: id, Service: "sum", Args: args,
			})
			require.Equal(t, common.InvokeErrNone, resp.Error, resp.ErrorMsg)
			assert.Equal(t, common.SourceWorker, resp.Source)
			assert.Equal(t, ct, resp.ContentType)
			assert.Equal(t, uint64(9), resp.Token)
			assert.True(t, resp.MessageID.Equal(id))

			var res sumResult
			require.NoError(t, ser.Deserialize(resp.Result, &res))
			assert.Equal(t, 42, res.Sum)
		})
	}
}

func TestErrorCodes(t *testing.T) {
	r := newRegistry()
	tests := []struct {
		name    string
		service string
		ct      common.ContentType
		args    []byte
		session *common.Session
		want    common.InvokeError
	}{
		{"unknown service", "nope", common.ContentJSON, nil, nil, common.InvokeErrServiceNotFound},
		{"bad args", "sum", common.ContentJSON, []byte("{"), nil, common.InvokeErrDeserializeRequestFailed},
		{"bad content type", "sum", common.ContentType(99), []byte("{}"), nil, common.InvokeErrDeserializeRequestFailed},
		{"missing session", "session", common.ContentJSON, nil, nil, common.InvokeErrSessionNotFound},
		{"panic", "panic", common.ContentJSON, nil, nil, common.InvokeErrServiceInnerError},
		{"bad result", "unencodable", common.ContentJSON, nil, nil, common.InvokeErrSerializeResponseFailed},
		{"with session", "session", common.ContentJSON, nil, &common.Session{Tag: "t"}, common.InvokeErrNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.Handle(context.Background(), &common.InvokeRequire{
				ContentType: tt.ct, Service: tt.service, Args: tt.args, Session: tt.session,
			})
			assert.Equal(t, tt.want, resp.Error, resp.ErrorMsg)
			if tt.want != common.InvokeErrNone {
				assert.NotEmpty(t, resp.ErrorMsg)
			}
		})
	}
}

func TestErrorCodeWrapping(t *testing.T) {
	assert.Equal(t, common.InvokeErrDeserializeRequestFailed, errorCode(fmt.Errorf("x: %w", ErrBadArgs)))
	assert.Equal(t, common.InvokeErrServiceInnerError, errorCode(errors.New("other")))
}
