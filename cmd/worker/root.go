package worker

import (
	"context"
	"strings"
	"time"

	"github.com/ValentinKolb/shmrt/cmd/util"
	dbutil "github.com/ValentinKolb/shmrt/lib/db/util"
	"github.com/ValentinKolb/shmrt/rpc/client"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/service"
	"github.com/ValentinKolb/shmrt/rpc/transport/shm"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	workerCmdConfig = &common.WorkerConfig{}
	WorkerCmd       = &cobra.Command{
		Use:   "worker",
		Short: "Attach to a host and run the demo services",
		Long: `Attach to the channel of a running host and serve the demo services "echo" and "upper".
Debug events received from the host are echoed back. Metrics of the worker are reported to the host periodically.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(WorkerCmd)

	key := "peer-id"
	WorkerCmd.PersistentFlags().Uint16(key, 0, util.WrapString("Peer id of the worker, used for generated entity ids and metric reports. 0 picks a random one"))

	key = "metrics-interval"
	WorkerCmd.PersistentFlags().Duration(key, 10*time.Second, util.WrapString("Interval of metric reports to the host, 0 disables reporting"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	channel, err := util.GetChannelConfig()
	if err != nil {
		return err
	}
	workerCmdConfig.Channel = channel
	workerCmdConfig.PeerID = uint16(viper.GetUint("peer-id"))
	for workerCmdConfig.PeerID == 0 {
		workerCmdConfig.PeerID = uint16(dbutil.GenerateSeed())
	}
	workerCmdConfig.MetricsInterval = viper.GetDuration("metrics-interval")
	workerCmdConfig.LogLevel = viper.GetString("log-level")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	channel, err := shm.Dial(workerCmdConfig.Channel)
	if err != nil {
		return err
	}

	w := client.NewWorker(*workerCmdConfig, channel)
	defer w.Close()

	registerDemoServices(w)

	// echo debug events so a debugger attached to the host sees a live peer
	w.OnEvent(func(_ context.Context, msg common.Message) {
		ev, ok := msg.(*common.DebugEvent)
		if !ok {
			return
		}
		body := append([]byte(nil), ev.Body...)
		if err := channel.Post(&common.DebugEvent{Session: ev.Session, Body: body}); err != nil {
			client.Logger.Warningf("failed to echo debug event: %v", err)
		}
	})

	ctx, cancel := util.SignalContext()
	defer cancel()

	go greetHost(ctx, w)

	return w.Run(ctx)
}

// registerDemoServices registers the services the host can invoke on the worker
func registerDemoServices(w *client.Worker) {
	calls := metrics.GetOrRegisterCounter("demo.calls", w.Metrics())
	size := metrics.GetOrRegisterHistogram("demo.args_size", w.Metrics(), metrics.NewUniformSample(1024))

	w.RegisterService("echo", func(_ context.Context, call service.Call) ([]byte, error) {
		calls.Inc(1)
		size.Update(int64(len(call.Args)))
		return call.Args, nil
	})
	w.RegisterService("upper", service.Typed(func(_ context.Context, _ service.Call, s string) (string, error) {
		calls.Inc(1)
		size.Update(int64(len(s)))
		return strings.ToUpper(s), nil
	}))
}

// greetHost invokes the echo service of the host once the channel is up
func greetHost(ctx context.Context, w *client.Worker) {
	callCtx, cancel := context.WithTimeout(ctx, workerCmdConfig.Channel.Timeout)
	defer cancel()

	var reply map[string]any
	args := map[string]any{"peer": workerCmdConfig.PeerID, "services": []string{"echo", "upper"}}
	if err := w.Invoke().Invoke(callCtx, "echo", args, nil, &reply); err != nil {
		client.Logger.Warningf("host did not answer: %v", err)
		return
	}
	client.Logger.Infof("host answered: %v", reply)
}
