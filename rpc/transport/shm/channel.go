package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/shmrt/lib/db/util"
	"github.com/ValentinKolb/shmrt/lib/mq"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("channel")

// readPollInterval bounds a single blocking read so Serve notices shutdown.
const readPollInterval = 50 * time.Millisecond

// partialTimeoutFactor scales the channel timeout into the time a partial
// incoming message may wait for its next chunk.
const partialTimeoutFactor = 4

// --------------------------------------------------------------------------
// Channel
// --------------------------------------------------------------------------

type outgoing struct {
	kind    common.MessageKind
	payload []byte
	done    chan error
}

// Channel implements transport.IChannel over two message queues.
type Channel struct {
	cfg   common.ChannelConfig
	owner bool

	in, out *mq.Queue
	reader  *mq.Reader
	writer  *mq.Writer

	outbox     *util.LockFreeMPSC[outgoing]
	writerDone chan struct{}

	pending   *xsync.MapOf[uint64, chan common.Message]
	nextToken atomic.Uint64
	handler   atomic.Pointer[transport.HandleFunc]

	sizes          *util.SizeHistogram
	unknownTokens  atomic.Uint64
	protocolErrors atomic.Uint64

	started   atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	serving   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// HostQueueName is the queue the host writes and the worker reads.
func HostQueueName(name string) string { return name + "_h2w" }

// WorkerQueueName is the queue the worker writes and the host reads.
func WorkerQueueName(name string) string { return name + "_w2h" }

// Listen creates both queues of the channel. It is called by the host, which
// owns the queues and removes them on Close.
func Listen(cfg common.ChannelConfig) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h2w, err := mq.Create(HostQueueName(cfg.Name), cfg.ChunkCount, cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	w2h, err := mq.Create(WorkerQueueName(cfg.Name), cfg.ChunkCount, cfg.ChunkSize)
	if err != nil {
		_ = h2w.Remove()
		return nil, fmt.Errorf("create queue: %w", err)
	}
	Logger.Infof("listening on channel %s (%d x %d bytes)", cfg.Name, cfg.ChunkCount, cfg.ChunkSize)
	return newChannel(cfg, true, w2h, h2w), nil
}

// Dial opens the queues created by a host. The geometry is taken from the
// existing segments, ChunkCount and ChunkSize of cfg are ignored.
func Dial(cfg common.ChannelConfig) (*Channel, error) {
	if cfg.Name == "" {
		return nil, errors.New("channel name must not be empty")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	h2w, err := mq.Open(HostQueueName(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	w2h, err := mq.Open(WorkerQueueName(cfg.Name))
	if err != nil {
		_ = h2w.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}
	Logger.Infof("connected to channel %s", cfg.Name)
	return newChannel(cfg, false, h2w, w2h), nil
}

func newChannel(cfg common.ChannelConfig, owner bool, in, out *mq.Queue) *Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = common.DefaultChannelConfig(cfg.Name).Timeout
	}
	c := &Channel{
		cfg:        cfg,
		owner:      owner,
		in:         in,
		out:        out,
		reader:     mq.NewReader(in),
		writer:     mq.NewWriter(out),
		outbox:     util.NewLockFreeMPSC[outgoing](),
		writerDone: make(chan struct{}),
		pending:    xsync.NewMapOf[uint64, chan common.Message](),
		sizes:      util.NewSizeHistogram(),
		done:       make(chan struct{}),
	}
	c.reader.SetMaxMessageSize(cfg.MaxMessageLen())
	// consecutive chunks of a live writer are at most one stall timeout apart
	c.reader.SetPartialTimeout(partialTimeoutFactor * cfg.Timeout)
	c.writer.SetStallTimeout(cfg.Timeout)
	go c.writeLoop()
	return c
}

// writeLoop is the single consumer of the outbox.
func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for o := range c.outbox.Recv() {
		err := c.writer.WriteMessage(uint8(o.kind), o.payload, c.cfg.Timeout)
		switch {
		case errors.Is(err, mq.ErrTimeout):
			err = fmt.Errorf("%w: write %s", transport.ErrTimeout, o.kind)
		case errors.Is(err, mq.ErrClosed):
			err = transport.ErrClosed
		}
		o.done <- err
	}
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Post implements transport.IChannel. It returns once the message is written
// to the outgoing queue. Posting keeps working while Close drains handlers.
func (c *Channel) Post(msg common.Message) error {
	payload, err := common.Marshal(msg)
	if err != nil {
		return err
	}
	if limit := c.cfg.MaxMessageLen(); len(payload) > limit {
		return fmt.Errorf("%w: %s of %d bytes, limit is %d", transport.ErrTooLarge, msg.Kind(), len(payload), limit)
	}
	o := &outgoing{kind: msg.Kind(), payload: payload, done: make(chan error, 1)}
	if !c.outbox.Push(o) {
		return transport.ErrClosed
	}
	select {
	case err := <-o.done:
		return err
	case <-c.writerDone:
		// a push racing with Close may land after the writer exited
		select {
		case err := <-o.done:
			return err
		default:
			return transport.ErrClosed
		}
	}
}

// Call implements transport.IChannel. Without a context deadline the channel
// timeout applies.
func (c *Channel) Call(ctx context.Context, req common.Correlated) (common.Message, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	token := c.nextToken.Add(1)
	req.SetToken(token)
	ch := make(chan common.Message, 1)
	c.pending.Store(token, ch)

	if err := c.Post(req); err != nil {
		c.pending.Delete(token)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		if resp, ok := c.abandon(token, ch); ok {
			return resp, nil
		}
		return nil, fmt.Errorf("%w: %s token %d: %v", transport.ErrTimeout, req.Kind(), token, ctx.Err())
	case <-c.done:
		if resp, ok := c.abandon(token, ch); ok {
			return resp, nil
		}
		return nil, transport.ErrClosed
	}
}

// abandon removes a pending call. If the dispatcher already claimed the entry
// the response is on its way and is returned instead.
func (c *Channel) abandon(token uint64, ch chan common.Message) (common.Message, bool) {
	if _, loaded := c.pending.LoadAndDelete(token); loaded {
		return nil, false
	}
	return <-ch, true
}

// --------------------------------------------------------------------------
// Receiving
// --------------------------------------------------------------------------

// RegisterHandler implements transport.IChannel.
func (c *Channel) RegisterHandler(handler transport.HandleFunc) {
	c.handler.Store(&handler)
}

// Serve implements transport.IChannel. Incoming requests are handled by at
// most cfg.Workers goroutines, responses are matched to pending calls. Serve
// may only run once per channel.
func (c *Channel) Serve(ctx context.Context) error {
	c.serving.Add(1)
	defer c.serving.Done()
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("channel is already served")
	}

	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		m, ok, err := c.reader.ReadMessage(readPollInterval)
		if err != nil {
			c.protocolErrors.Add(1)
			Logger.Warningf("channel %s: %v", c.cfg.Name, err)
			continue
		}
		if !ok {
			continue
		}
		c.dispatch(ctx, m, sem, &wg)
	}
}

func (c *Channel) dispatch(ctx context.Context, m mq.Message, sem chan struct{}, wg *sync.WaitGroup) {
	kind := common.MessageKind(m.Kind)
	c.sizes.AddSample(len(m.Payload))

	msg, err := common.Unmarshal(kind, m.Payload)
	if err != nil {
		c.protocolErrors.Add(1)
		Logger.Warningf("channel %s: dropping message %d: %v", c.cfg.Name, m.ID, err)
		return
	}

	if common.IsResponse(kind) {
		c.deliver(msg)
		return
	}

	h := c.handler.Load()
	if h == nil {
		Logger.Warningf("channel %s: no handler for %s, dropping", c.cfg.Name, kind)
		common.Release(msg)
		return
	}

	sem <- struct{}{}
	wg.Add(1)
	go func() {
		defer func() {
			<-sem
			wg.Done()
		}()
		defer common.Release(msg)

		reply := (*h)(ctx, msg)
		if reply == nil {
			return
		}
		if err := c.Post(reply); err != nil {
			Logger.Errorf("channel %s: failed to post %s: %v", c.cfg.Name, reply.Kind(), err)
		}
		common.Release(reply)
	}()
}

// deliver hands a response to its pending call. Responses for unknown tokens
// are logged and dropped.
func (c *Channel) deliver(msg common.Message) {
	corr, ok := msg.(common.Correlated)
	if !ok {
		c.protocolErrors.Add(1)
		Logger.Warningf("channel %s: response %s carries no token", c.cfg.Name, msg.Kind())
		common.Release(msg)
		return
	}
	ch, ok := c.pending.LoadAndDelete(corr.GetToken())
	if !ok {
		c.unknownTokens.Add(1)
		Logger.Warningf("channel %s: no pending call for %s token %d", c.cfg.Name, msg.Kind(), corr.GetToken())
		common.Release(msg)
		return
	}
	ch <- msg
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Stats implements transport.IChannel.
func (c *Channel) Stats() transport.Stats {
	return transport.Stats{
		Pending:        c.pending.Size(),
		Outbox:         c.outbox.Len(),
		Sent:           c.writer.MessagesWritten(),
		Received:       c.reader.Stats().MessagesRead,
		UnknownTokens:  c.unknownTokens.Load(),
		ProtocolErrors: c.protocolErrors.Load() + c.reader.Stats().MalformedChunks + c.reader.Stats().EvictedPartials,
		AvgMessageSize: c.sizes.AverageSize(),
		P99MessageSize: c.sizes.Percentile(99),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.cfg.Name }

// Close implements transport.IChannel. Pending calls fail with ErrClosed.
// Queued outgoing messages are still written as long as the peer reads them
// within the channel timeout, afterwards they fail with ErrClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		// queue memory must stay mapped until the reader is gone
		c.in.Shutdown()
		c.serving.Wait()

		drained := make(chan struct{})
		go func() {
			c.outbox.CloseAndWait()
			<-c.writerDone
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(c.cfg.Timeout):
			Logger.Warningf("channel %s: peer stopped reading, failing queued messages", c.cfg.Name)
			c.out.Shutdown()
			<-drained
		}

		release := (*mq.Queue).Close
		if c.owner {
			release = (*mq.Queue).Remove
		}
		c.closeErr = errors.Join(release(c.in), release(c.out))
		Logger.Infof("channel %s closed", c.cfg.Name)
	})
	return c.closeErr
}
