package debug

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Frames
// --------------------------------------------------------------------------

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single", "Content-Length: 2\r\n\r\n{}", []string{"{}"}},
		{"two frames", "Content-Length: 1\r\n\r\naContent-Length: 3\r\n\r\nbcd", []string{"a", "bcd"}},
		{"extra headers", "Content-Type: application/json\r\ncontent-length:  4 \r\nX: y\r\n\r\nbody", []string{"body"}},
		{"bare newlines", "Content-Length: 3\n\nabc", []string{"abc"}},
		{"empty body", "Content-Length: 0\r\n\r\n", []string{""}},
		{"body with header text", "Content-Length: 23\r\n\r\nContent-Length: 5\r\n\r\nxy", []string{"Content-Length: 5\r\n\r\nxy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			for _, want := range tt.want {
				body, err := ReadFrame(r)
				require.NoError(t, err)
				assert.Equal(t, want, string(body))
			}
			_, err := ReadFrame(r)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"missing length", "Content-Type: x\r\n\r\n{}", ErrMissingLength},
		{"invalid length", "Content-Length: abc\r\n\r\n", ErrInvalidHeader},
		{"negative length", "Content-Length: -1\r\n\r\n", ErrInvalidHeader},
		{"no colon", "garbage\r\n\r\n", ErrInvalidHeader},
		{"huge length", "Content-Length: 999999999999\r\n\r\n", ErrInvalidHeader},
		{"short body", "Content-Length: 10\r\n\r\nabc", io.ErrUnexpectedEOF},
		{"truncated header", "Content-Len", io.ErrUnexpectedEOF},
		{"long line", strings.Repeat("x", MaxHeaderLine+10), ErrInvalidHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bufio.NewReader(strings.NewReader(tt.input)))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"seq":1}`)))
	assert.Equal(t, "Content-Length: 9\r\n\r\n{\"seq\":1}", buf.String())

	body, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, `{"seq":1}`, string(body))
}

// --------------------------------------------------------------------------
// Bridge
// --------------------------------------------------------------------------

// pipeChannel delivers posted messages to the handler of its peer.
type pipeChannel struct {
	mu      sync.Mutex
	peer    *pipeChannel
	handler transport.HandleFunc
}

func newPipe() (*pipeChannel, *pipeChannel) {
	a, b := &pipeChannel{}, &pipeChannel{}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeChannel) Post(msg common.Message) error {
	payload, err := common.Marshal(msg)
	if err != nil {
		return err
	}
	in, err := common.Unmarshal(msg.Kind(), payload)
	if err != nil {
		return err
	}
	p.peer.mu.Lock()
	h := p.peer.handler
	p.peer.mu.Unlock()
	if h != nil {
		h(context.Background(), in)
	}
	return nil
}

func (p *pipeChannel) Call(context.Context, common.Correlated) (common.Message, error) {
	return nil, transport.ErrClosed
}

func (p *pipeChannel) RegisterHandler(h transport.HandleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *pipeChannel) Serve(ctx context.Context) error { <-ctx.Done(); return nil }
func (p *pipeChannel) Stats() transport.Stats          { return transport.Stats{} }
func (p *pipeChannel) Close() error                    { return nil }

func TestBridgeSendRecv(t *testing.T) {
	a, b := newPipe()
	session := NewSession()
	left, right := NewBridge(a, session), NewBridge(b, session)
	defer left.Close()
	defer right.Close()

	require.NoError(t, left.Send([]byte("hello")))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	body, err := right.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	// other sessions are dropped
	other := NewBridge(a, "other")
	require.NoError(t, other.Send([]byte("stray")))
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err = right.Recv(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	right.Close()
	_, err = right.Recv(context.Background())
	assert.ErrorIs(t, err, ErrBridgeClosed)
}

func TestBridgeRelay(t *testing.T) {
	a, b := newPipe()
	session := NewSession()
	adapter, engine := NewBridge(a, session), NewBridge(b, session)
	defer engine.Close()

	// the engine answers every request with its body in upper case
	go func() {
		for {
			body, err := engine.Recv(context.Background())
			if err != nil {
				return
			}
			_ = engine.Send(bytes.ToUpper(body))
		}
	}()

	in, inWriter := io.Pipe()
	go func() {
		_ = WriteFrame(inWriter, []byte(`{"command":"initialize"}`))
		_ = WriteFrame(inWriter, []byte(`{"command":"launch"}`))
	}()

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- adapter.Relay(ctx, in, out) }()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "Content-Length") == 2
	}, time.Second, 10*time.Millisecond)

	r := bufio.NewReader(strings.NewReader(out.String()))
	first, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"COMMAND":"INITIALIZE"}`, string(first))

	// closing the input ends the relay
	require.NoError(t, inWriter.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "app_debug_s1", ChannelName("app", "s1"))
	assert.NotEqual(t, NewSession(), NewSession())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
