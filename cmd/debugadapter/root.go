package debugadapter

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/debug"
	"github.com/ValentinKolb/shmrt/rpc/transport/shm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DebugAdapterCmd relays a debug adapter protocol stream on stdio to the
// debug session channel of a host.
var DebugAdapterCmd = &cobra.Command{
	Use:   "debug-adapter",
	Short: "Relay a debug adapter protocol session between stdio and a host",
	Long: `Relay Content-Length framed debug adapter protocol messages between stdin/stdout and the debug
session of a host started with --debug. Logs are written to stderr.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		// stdout carries the protocol
		common.SetLogOutput(os.Stderr)
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}
		return util.InitLogging()
	},
	RunE: run,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(DebugAdapterCmd)
	DebugAdapterCmd.PersistentFlags().String("session", "", util.WrapString("Id of the debug session printed by the host"))
}

func run(_ *cobra.Command, _ []string) error {
	session := viper.GetString("session")
	if session == "" {
		return fmt.Errorf("--session is required")
	}

	conf, err := util.GetChannelConfig()
	if err != nil {
		return err
	}
	conf.Name = debug.ChannelName(conf.Name, session)

	var bridge *debug.Bridge
	_, detach, err := util.Attach(conf, func(channel *shm.Channel) {
		bridge = debug.NewBridge(channel, session)
	})
	if err != nil {
		return err
	}
	defer detach()
	defer bridge.Close()

	ctx, cancel := util.SignalContext()
	defer cancel()

	// unblock the stdin reader on shutdown
	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()

	err = bridge.Relay(ctx, os.Stdin, os.Stdout)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
