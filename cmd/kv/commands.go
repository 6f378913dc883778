package kv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/lib/store/filter"
	"github.com/ValentinKolb/shmrt/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	insertCmd.Flags().Bool("override", false, "Replace an existing row instead of failing")
	insertCmd.Flags().Uint32("schema", 0, "Schema version of the row")
	updateCmd.Flags().Uint32("schema", 0, "Schema version of the row")

	scanCmd.Flags().String("end", "", "Exclusive end of the range, empty means up to the end of the prefix")
	scanCmd.Flags().Uint32("skip", 0, "Number of matching rows to skip")
	scanCmd.Flags().Uint32("take", 0, "Maximum number of rows, 0 is unlimited")
	scanCmd.Flags().String("contains", "", "Only return rows whose value contains this string")
}

// key applies the table prefix if one is configured
func key(arg string) []byte {
	if table := viper.GetInt64("table"); table >= 0 {
		return store.TableKey(uint32(table), []byte(arg))
	}
	return []byte(arg)
}

// FormatRow renders a row for terminal output
func FormatRow(row store.Row) string {
	return fmt.Sprintf("schema=%d, refs=%d bytes, value=%q", row.SchemaVersion, len(row.Refs), row.Value)
}

func parseTable(arg string) (uint32, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("table id must be a number: %w", err)
	}
	return uint32(id), nil
}

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the row of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, found, err := kvClient.Get(context.Background(), group(), cf(), key(args[0]))
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key=%s, found=false\n", args[0])
				return nil
			}
			fmt.Printf("key=%s, found=true, %s\n", args[0], FormatRow(row))
			return nil
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [value]",
		Short: "Inserts a row, fails if the key exists unless --override is set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			override, _ := cmd.Flags().GetBool("override")
			schema, _ := cmd.Flags().GetUint32("schema")
			row := store.Row{SchemaVersion: schema, Value: []byte(args[1])}
			res, err := kvClient.Insert(context.Background(), group(), cf(), key(args[0]), row,
				client.WriteOptions{Override: override, ReturnPrevious: true})
			if err != nil {
				return err
			}
			printWrite("insert", res)
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [key] [value]",
		Short: "Updates an existing row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetUint32("schema")
			row := store.Row{SchemaVersion: schema, Value: []byte(args[1])}
			res, err := kvClient.Update(context.Background(), group(), cf(), key(args[0]), row,
				client.WriteOptions{ReturnPrevious: true})
			if err != nil {
				return err
			}
			printWrite("update", res)
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := kvClient.Delete(context.Background(), group(), cf(), key(args[0]),
				client.WriteOptions{ReturnPrevious: true})
			if err != nil {
				return err
			}
			printWrite("delete", res)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [begin]",
		Short: "Lists the rows of a key range",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := store.ScanQuery{CF: cf()}
			if len(args) == 1 {
				q.Begin = key(args[0])
			} else if table := viper.GetInt64("table"); table >= 0 {
				q.Begin = store.TablePrefix(uint32(table))
			}
			if end, _ := cmd.Flags().GetString("end"); end != "" {
				q.End = key(end)
			} else if table := viper.GetInt64("table"); table >= 0 {
				q.Filter = filter.KeyPrefix(store.TablePrefix(uint32(table)))
			}
			if contains, _ := cmd.Flags().GetString("contains"); contains != "" {
				if q.Filter != nil {
					q.Filter = filter.And(q.Filter, filter.ValueContains([]byte(contains)))
				} else {
					q.Filter = filter.ValueContains([]byte(contains))
				}
			}
			q.Skip, _ = cmd.Flags().GetUint32("skip")
			q.Take, _ = cmd.Flags().GetUint32("take")

			res, err := kvClient.Scan(context.Background(), group(), q)
			if err != nil {
				return err
			}
			for _, p := range res.Pairs {
				fmt.Printf("%q: %s\n", p.Key, FormatRow(p.Row))
			}
			fmt.Printf("%d rows (skipped %d)\n", len(res.Pairs), res.Skipped)
			return nil
		},
	}
	addRefCmd = &cobra.Command{
		Use:   "addref [target] [from] [diff]",
		Short: "Changes the reference count from one key to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			diff, err := strconv.ParseInt(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("diff must be a number: %w", err)
			}
			total, err := kvClient.AddRef(context.Background(), group(), key(args[0]), key(args[1]), int32(diff))
			if err != nil {
				return err
			}
			fmt.Printf("target=%s, from=%s, refs=%d\n", args[0], args[1], total)
			return nil
		},
	}
	dropTableCmd = &cobra.Command{
		Use:   "droptable [table]",
		Short: "Removes all rows and the schema of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := parseTable(args[0])
			if err != nil {
				return err
			}
			n, err := kvClient.DropTable(context.Background(), group(), table)
			if err != nil {
				return err
			}
			fmt.Printf("table=%d dropped, %d rows removed\n", table, n)
			return nil
		},
	}
	partitionCmd = &cobra.Command{
		Use:   "partition [table] [flags]",
		Short: "Allocates a new partition id for a table",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := parseTable(args[0])
			if err != nil {
				return err
			}
			var flags uint64
			if len(args) == 2 {
				if flags, err = strconv.ParseUint(args[1], 0, 12); err != nil {
					return fmt.Errorf("flags must be a 12 bit number: %w", err)
				}
			}
			id, err := kvClient.GenPartition(context.Background(), table, uint16(flags))
			if err != nil {
				return err
			}
			fmt.Printf("partition=%d (seq=%d, flags=%#x)\n", id, id>>12, id&0xFFF)
			return nil
		},
	}
)

func printWrite(op string, res client.WriteResult) {
	if res.Previous != nil {
		fmt.Printf("%s successful, previous %s\n", op, FormatRow(*res.Previous))
		return
	}
	fmt.Printf("%s successful\n", op)
}
