package kv

import (
	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/rpc/client"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	kvClient *client.KVClient
	detach   func() error

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value operations on a running host",
		Long: `Perform key-value operations on a running host. The command attaches to the channel as its worker,
so no other worker may be attached at the same time.`,
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(KeyValueCommands)

	KeyValueCommands.PersistentFlags().Uint64("group", 1, util.WrapString("ID of the replication group to operate on"))
	KeyValueCommands.PersistentFlags().Int8("cf", 0, util.WrapString("Column family of the keys (0 is the default family)"))
	KeyValueCommands.PersistentFlags().Int64("table", -1, util.WrapString("If set, keys are prefixed with the table id (0 to 4294967294)"))

	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(insertCmd)
	KeyValueCommands.AddCommand(updateCmd)
	KeyValueCommands.AddCommand(deleteCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(addRefCmd)
	KeyValueCommands.AddCommand(dropTableCmd)
	KeyValueCommands.AddCommand(partitionCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient attaches to the channel and creates the KV client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	conf, err := util.GetChannelConfig()
	if err != nil {
		return err
	}

	channel, d, err := util.Attach(conf, nil)
	if err != nil {
		return err
	}
	detach = d
	kvClient = client.NewKVClient(channel, metrics.NewRegistry())
	return nil
}

func closeKVClient(_ *cobra.Command, _ []string) error {
	if detach == nil {
		return nil
	}
	return detach()
}

func group() uint64 { return viper.GetUint64("group") }

func cf() int8 { return int8(viper.GetInt("cf")) }
