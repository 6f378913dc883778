package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/rpc/client"
)

var errQuit = errors.New("quit")

// kvOperations is implemented by the KV client and by open transactions.
type kvOperations interface {
	Insert(ctx context.Context, group uint64, cf int8, key []byte, row store.Row, opts client.WriteOptions) (client.WriteResult, error)
	Update(ctx context.Context, group uint64, cf int8, key []byte, row store.Row, opts client.WriteOptions) (client.WriteResult, error)
	Delete(ctx context.Context, group uint64, cf int8, key []byte, opts client.WriteOptions) (client.WriteResult, error)
	Get(ctx context.Context, group uint64, cf int8, key []byte) (store.Row, bool, error)
	Scan(ctx context.Context, group uint64, q store.ScanQuery) (store.ScanResult, error)
}

// commands lists the shell commands with their usage, also used for completion
var commands = []struct{ name, usage string }{
	{"get", "get <key>"},
	{"insert", "insert <key> <value>"},
	{"upsert", "upsert <key> <value>"},
	{"update", "update <key> <value>"},
	{"delete", "delete <key>"},
	{"scan", "scan [begin] [take]"},
	{"begin", "begin"},
	{"commit", "commit"},
	{"rollback", "rollback"},
	{"group", "group [id]"},
	{"invoke", "invoke <service> [json args]"},
	{"partition", "partition <table> [flags]"},
	{"help", "help"},
	{"exit", "exit"},
}

// session executes shell lines against one host.
type session struct {
	kv     *client.KVClient
	invoke *client.InvokeClient
	out    io.Writer

	group uint64
	txn   *client.Txn
}

func (s *session) ops() kvOperations {
	if s.txn != nil {
		return s.txn
	}
	return s.kv
}

func (s *session) prompt() string {
	if s.txn != nil {
		return fmt.Sprintf("shmrt[%d txn %d]> ", s.group, s.txn.Handle())
	}
	return fmt.Sprintf("shmrt[%d]> ", s.group)
}

// exec runs one line. It returns errQuit for exit.
func (s *session) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", usage(cmd))
		}
		return nil
	}

	switch cmd {
	case "exit", "quit", `\q`:
		return errQuit

	case "help":
		for _, c := range commands {
			fmt.Fprintf(s.out, "  %s\n", c.usage)
		}

	case "get":
		if err := need(1); err != nil {
			return err
		}
		row, found, err := s.ops().Get(ctx, s.group, 0, []byte(args[0]))
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(s.out, "(not found)")
			return nil
		}
		fmt.Fprintf(s.out, "%s\n", row.Value)

	case "insert", "upsert", "update":
		if err := need(2); err != nil {
			return err
		}
		row := store.Row{Value: []byte(strings.Join(args[1:], " "))}
		var err error
		if cmd == "update" {
			_, err = s.ops().Update(ctx, s.group, 0, []byte(args[0]), row, client.WriteOptions{})
		} else {
			_, err = s.ops().Insert(ctx, s.group, 0, []byte(args[0]), row, client.WriteOptions{Override: cmd == "upsert"})
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")

	case "delete":
		if err := need(1); err != nil {
			return err
		}
		if _, err := s.ops().Delete(ctx, s.group, 0, []byte(args[0]), client.WriteOptions{}); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")

	case "scan":
		q := store.ScanQuery{Take: 20}
		if len(args) > 0 {
			q.Begin = []byte(args[0])
		}
		if len(args) > 1 {
			take, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("take must be a number: %w", err)
			}
			q.Take = uint32(take)
		}
		res, err := s.ops().Scan(ctx, s.group, q)
		if err != nil {
			return err
		}
		for _, p := range res.Pairs {
			fmt.Fprintf(s.out, "%s = %s\n", p.Key, p.Row.Value)
		}
		fmt.Fprintf(s.out, "(%d rows)\n", len(res.Pairs))

	case "begin":
		if s.txn != nil {
			return fmt.Errorf("transaction %d is still open", s.txn.Handle())
		}
		txn, err := s.kv.Begin(ctx, s.group)
		if err != nil {
			return err
		}
		s.txn = txn
		fmt.Fprintf(s.out, "BEGIN %d\n", txn.Handle())

	case "commit":
		if s.txn == nil {
			return errors.New("no open transaction")
		}
		txn := s.txn
		s.txn = nil
		n, err := txn.Commit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "COMMIT (%d mutations)\n", n)

	case "rollback":
		if s.txn == nil {
			return errors.New("no open transaction")
		}
		txn := s.txn
		s.txn = nil
		if err := txn.Rollback(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "ROLLBACK")

	case "group":
		if len(args) == 0 {
			fmt.Fprintln(s.out, s.group)
			return nil
		}
		if s.txn != nil {
			return errors.New("cannot switch group inside a transaction")
		}
		g, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("group must be a number: %w", err)
		}
		s.group = g

	case "invoke":
		if err := need(1); err != nil {
			return err
		}
		var payload []byte
		if len(args) > 1 {
			payload = []byte(strings.Join(args[1:], " "))
		}
		res, err := s.invoke.InvokeRaw(ctx, args[0], payload, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s\n", res)

	case "partition":
		if err := need(1); err != nil {
			return err
		}
		table, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("table must be a number: %w", err)
		}
		var flags uint64
		if len(args) > 1 {
			if flags, err = strconv.ParseUint(args[1], 0, 12); err != nil {
				return fmt.Errorf("flags must be a 12 bit number: %w", err)
			}
		}
		id, err := s.kv.GenPartition(ctx, uint32(table), uint16(flags))
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, id)

	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func usage(cmd string) string {
	for _, c := range commands {
		if c.name == cmd {
			return c.usage
		}
	}
	return cmd
}
