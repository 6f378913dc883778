package debug

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("debug")

// inboxSize is the number of received bodies buffered for Recv.
const inboxSize = 64

// ErrBridgeClosed is returned by Recv after Close.
var ErrBridgeClosed = errors.New("debug bridge closed")

// NewSession returns a fresh session id.
func NewSession() string { return uuid.NewString() }

// ChannelName returns the name of the channel of a debug session.
func ChannelName(base, session string) string { return base + "_debug_" + session }

// Bridge relays debug adapter protocol messages of one session over a channel.
// Each message travels as the body of a DebugEvent.
type Bridge struct {
	channel transport.IChannel
	session string

	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge registers the bridge as handler of channel. The channel must be
// served by the caller.
func NewBridge(channel transport.IChannel, session string) *Bridge {
	b := &Bridge{
		channel: channel,
		session: session,
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
	}
	channel.RegisterHandler(b.handle)
	return b
}

func (b *Bridge) handle(ctx context.Context, msg common.Message) common.Message {
	ev, ok := msg.(*common.DebugEvent)
	if !ok {
		Logger.Warningf("debug session %s: unexpected %s, dropping", b.session, msg.Kind())
		return nil
	}
	if ev.Session != b.session {
		Logger.Warningf("debug event for session %s on session %s, dropping", ev.Session, b.session)
		return nil
	}
	select {
	case b.inbox <- ev.Body:
	case <-b.done:
	case <-ctx.Done():
	}
	return nil
}

// Session returns the session id.
func (b *Bridge) Session() string { return b.session }

// Send posts one protocol message to the other side.
func (b *Bridge) Send(body []byte) error {
	return b.channel.Post(&common.DebugEvent{Session: b.session, Body: body})
}

// Recv returns the next protocol message from the other side.
func (b *Bridge) Recv(ctx context.Context) ([]byte, error) {
	select {
	case body := <-b.inbox:
		return body, nil
	case <-b.done:
		return nil, ErrBridgeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Relay connects a framed stream (usually stdio of a debug adapter) to the
// bridge: frames read from r are sent, received messages are written to w as
// frames. It returns when r ends, ctx is done or an error occurs.
func (b *Bridge) Relay(ctx context.Context, r io.Reader, w io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		defer close(stop)
		br := bufio.NewReader(r)
		for {
			body, err := ReadFrame(br)
			if errors.Is(err, io.EOF) {
				Logger.Infof("debug session %s: input closed", b.session)
				return nil
			}
			if err != nil {
				return err
			}
			if err := b.Send(body); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		for {
			body, err := b.Recv(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, ErrBridgeClosed) {
					return nil
				}
				return err
			}
			if err := WriteFrame(w, body); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

// Close stops Recv. The channel is not closed.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
