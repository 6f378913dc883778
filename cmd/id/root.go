package id

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/spf13/cobra"
)

var (
	// IDCommands groups the entity id helpers
	IDCommands = &cobra.Command{
		Use:   "id",
		Short: "Generate or inspect entity ids",
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generates new entity ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			peer, _ := cmd.Flags().GetUint16("peer")
			group, _ := cmd.Flags().GetUint64("group")
			count, _ := cmd.Flags().GetInt("count")

			gen := entityid.NewGenerator(peer)
			for i := 0; i < count; i++ {
				id, err := gen.NewInGroup(group)
				if err != nil {
					return err
				}
				fmt.Println(id)
			}
			return nil
		},
	}

	parseCmd = &cobra.Command{
		Use:   "parse [id...]",
		Short: "Prints the fields of entity ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			for _, arg := range args {
				id, err := entityid.Parse(arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				fmt.Printf("%s\n  time:  %s\n  peer:  %d\n  seq:   %d\n  group: %d\n  hash:  %#016x\n",
					id, id.Time().UTC().Format(time.RFC3339Nano), id.Peer(), id.Sequence(), id.RoutingGroup(), id.Hash())
			}
			return nil
		},
	}
)

func init() {
	generateCmd.Flags().Uint16("peer", 0, util.WrapString("Peer id stored in the ids"))
	generateCmd.Flags().Uint64("group", 0, util.WrapString("Replication group stored in the ids (at most 44 bits)"))
	generateCmd.Flags().Int("count", 1, util.WrapString("Number of ids to generate"))

	IDCommands.AddCommand(generateCmd)
	IDCommands.AddCommand(parseCmd)
}
