package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/rpc/client"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/serializer"
	"github.com/chzyer/readline"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ShellCmd starts an interactive session against a running host
var ShellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive key-value shell",
	Long: `Attach to the channel of a running host as its worker and run key-value commands, transactions
and service invocations interactively. Type help for a list of commands.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}
		return util.InitLogging()
	},
	RunE: run,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(ShellCmd)
	ShellCmd.PersistentFlags().Uint64("group", 1, util.WrapString("Initial replication group"))
	ShellCmd.PersistentFlags().Uint16("peer-id", 1, util.WrapString("Peer id of generated message ids"))
	ShellCmd.PersistentFlags().String("history", "", util.WrapString("History file, defaults to ~/.shmrt_history"))
}

func historyFile() string {
	if f := viper.GetString("history"); f != "" {
		return f
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".shmrt_history")
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

func run(_ *cobra.Command, _ []string) error {
	conf, err := util.GetChannelConfig()
	if err != nil {
		return err
	}

	channel, detach, err := util.Attach(conf, nil)
	if err != nil {
		return err
	}
	defer detach()

	registry := metrics.NewRegistry()
	ids := entityid.NewGenerator(uint16(viper.GetUint("peer-id")))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "shmrt> ",
		HistoryFile:     historyFile(),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	s := &session{
		kv:     client.NewKVClient(channel, registry),
		invoke: client.NewInvokeClient(channel, serializer.NewJSONSerializer(), common.SourceWorker, ids, registry),
		out:    rl.Stdout(),
		group:  viper.GetUint64("group"),
	}
	defer func() {
		if s.txn != nil {
			_ = s.txn.Rollback(context.Background())
		}
	}()

	fmt.Fprintf(rl.Stdout(), "attached to %s, type help for a list of commands\n", conf.Name)
	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), conf.Timeout)
		err = s.exec(ctx, line)
		cancel()
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}
