package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/service"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("host")

// Host serves the requests of one worker: KV operations on its replication
// groups, calls into host services, partition ids, metric reports and debug
// events.
type Host struct {
	config   common.HostConfig
	channel  transport.IChannel
	groups   *groupRegistry
	txns     *txnTable
	services *service.Registry
	metrics  *metricsSink
	debugger *debugAdapterImpl
	routes   map[common.MessageKind]IHostAdapter
}

// NewHost creates the groups of the config and registers the host as handler
// of the channel. A nil channel is allowed, requests are then passed to Handle
// directly.
//
// Usage:
//
//	ch, err := shm.Listen(cfg.Channel)
//	...
//	h, err := server.NewHost(cfg, ch)
//	...
//	h.RegisterService("echo", echo)
//	err = h.Run(ctx)
func NewHost(config common.HostConfig, channel transport.IChannel) (*Host, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	groups, err := newGroupRegistry(&config)
	if err != nil {
		return nil, err
	}

	h := &Host{
		config:   config,
		channel:  channel,
		groups:   groups,
		txns:     newTxnTable(),
		services: service.NewRegistry(common.SourceHost),
		metrics:  newMetricsSink(),
		debugger: newDebugAdapter(),
		routes:   make(map[common.MessageKind]IHostAdapter),
	}
	h.register(newKVAdapter(h.groups, h.txns))
	h.register(newInvokeAdapter(h.services))
	h.register(newOpsAdapter(h.groups, config.MetaGroup, h.metrics))
	h.register(h.debugger)
	h.metrics.watchTxns(h.txns)

	if channel != nil {
		channel.RegisterHandler(h.Handle)
		h.metrics.watchChannel(channel)
	}

	Logger.Infof("created host with groups %v", groups.ids())
	Logger.Infof(config.String())
	return h, nil
}

func (h *Host) register(a IHostAdapter) {
	for _, kind := range a.Kinds() {
		h.routes[kind] = a
	}
}

// Handle routes one request to its adapter. It is the channel handler of the host.
func (h *Host) Handle(ctx context.Context, req common.Message) common.Message {
	start := time.Now()
	a, ok := h.routes[req.Kind()]
	if !ok {
		Logger.Warningf("no handler for %s, dropping", req.Kind())
		return nil
	}
	resp := a.Handle(ctx, req)
	h.metrics.requestDone(req.Kind(), start, failed(resp))
	return resp
}

func failed(resp common.Message) bool {
	switch r := resp.(type) {
	case interface{ Err() error }:
		return r.Err() != nil
	case *common.InvokeResponse:
		return r.Error != common.InvokeErrNone
	default:
		return false
	}
}

// RegisterService makes a service callable by the worker.
func (h *Host) RegisterService(name string, fn service.Func) {
	h.services.Register(name, fn)
}

// InvalidateModels tells the worker to drop cached model metadata.
func (h *Host) InvalidateModels(services []string, models []uint64) error {
	if h.channel == nil {
		return transport.ErrClosed
	}
	return h.channel.Post(&common.InvalidModelsCache{Services: services, Models: models})
}

// Channel returns the channel of the host, for calls into worker services.
func (h *Host) Channel() transport.IChannel { return h.channel }

// MetricsHandler returns the Prometheus endpoint handler.
func (h *Host) MetricsHandler() http.Handler { return h.metrics }

// Run serves the channel and the optional metrics endpoint until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	if h.channel == nil {
		return errors.New("host has no channel")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.channel.Serve(ctx)
	})

	if h.config.MetricsEndpoint != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.metrics)
		srv := &http.Server{Addr: h.config.MetricsEndpoint, Handler: mux}

		g.Go(func() error {
			Logger.Infof("serving metrics on %s/metrics", h.config.MetricsEndpoint)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes the channel and stops all groups.
func (h *Host) Close() error {
	var err error
	if h.channel != nil {
		err = h.channel.Close()
	}
	h.groups.close()
	Logger.Infof("host stopped")
	return err
}
