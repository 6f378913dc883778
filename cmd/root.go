package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/shmrt/cmd/debugadapter"
	"github.com/ValentinKolb/shmrt/cmd/host"
	"github.com/ValentinKolb/shmrt/cmd/id"
	"github.com/ValentinKolb/shmrt/cmd/kv"
	"github.com/ValentinKolb/shmrt/cmd/shell"
	"github.com/ValentinKolb/shmrt/cmd/worker"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "shmrt",
		Short: "shared memory runtime bridge",
		Long: fmt.Sprintf(`shmrt (v%s)

A host/worker bridge over named shared memory: a chunked message queue
carries key-value operations, transactions, service invocations, metrics
and debugger traffic between two processes on the same machine.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of shmrt",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shmrt v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(host.HostCmd)
	RootCmd.AddCommand(worker.WorkerCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(id.IDCommands)
	RootCmd.AddCommand(debugadapter.DebugAdapterCmd)
	RootCmd.AddCommand(shell.ShellCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
