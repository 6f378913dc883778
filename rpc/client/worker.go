package client

import (
	"context"
	"errors"

	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/serializer"
	"github.com/ValentinKolb/shmrt/rpc/service"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

// EventFunc receives events the worker does not handle itself.
type EventFunc func(ctx context.Context, msg common.Message)

// Worker is the worker side of a channel: it serves worker services to the
// host, keeps the model cache and reports metrics. KV and Invoke issue calls
// to the host.
type Worker struct {
	config   common.WorkerConfig
	channel  transport.IChannel
	registry metrics.Registry
	services *service.Registry
	models   *ModelCache
	reporter *MetricsReporter
	kv       *KVClient
	invoke   *InvokeClient
	onEvent  EventFunc
}

// NewWorker wires a worker to an attached channel.
func NewWorker(config common.WorkerConfig, channel transport.IChannel) *Worker {
	registry := metrics.NewRegistry()
	ids := entityid.NewGenerator(config.PeerID)

	w := &Worker{
		config:   config,
		channel:  channel,
		registry: registry,
		services: service.NewRegistry(common.SourceWorker),
		models:   NewModelCache(),
		reporter: NewMetricsReporter(channel, registry, config.PeerID, config.MetricsInterval),
		kv:       NewKVClient(channel, registry),
		invoke:   NewInvokeClient(channel, serializer.NewJSONSerializer(), common.SourceWorker, ids, registry),
	}
	channel.RegisterHandler(w.handle)

	Logger.Infof("created worker %d", config.PeerID)
	Logger.Infof(config.String())
	return w
}

func (w *Worker) handle(ctx context.Context, msg common.Message) common.Message {
	switch m := msg.(type) {
	case *common.InvokeRequire:
		metrics.GetOrRegisterCounter("served."+m.Service, w.registry).Inc(1)
		return w.services.Handle(ctx, m)
	case *common.InvalidModelsCache:
		n := w.models.Invalidate(m)
		Logger.Debugf("invalidated %d cached models", n)
	}
	if w.onEvent != nil {
		w.onEvent(ctx, msg)
	}
	return nil
}

// OnEvent sets a callback for events, it is called after the worker handled them.
// It must be set before Run.
func (w *Worker) OnEvent(fn EventFunc) { w.onEvent = fn }

// RegisterService makes a service callable by the host.
func (w *Worker) RegisterService(name string, fn service.Func) {
	w.services.Register(name, fn)
}

func (w *Worker) KV() *KVClient               { return w.kv }
func (w *Worker) Invoke() *InvokeClient       { return w.invoke }
func (w *Worker) Models() *ModelCache         { return w.models }
func (w *Worker) Metrics() metrics.Registry   { return w.registry }
func (w *Worker) Channel() transport.IChannel { return w.channel }
func (w *Worker) Reporter() *MetricsReporter  { return w.reporter }

// Run serves the channel and reports metrics until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.channel.Serve(ctx) })
	g.Go(func() error { return w.reporter.Run(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close sends a final metric report and closes the channel.
func (w *Worker) Close() error {
	if err := w.reporter.Report(); err != nil {
		Logger.Debugf("final metric report failed: %v", err)
	}
	return w.channel.Close()
}
