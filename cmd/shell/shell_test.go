package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/rpc/client"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/serializer"
	"github.com/ValentinKolb/shmrt/rpc/server"
	"github.com/ValentinKolb/shmrt/rpc/service"
	"github.com/ValentinKolb/shmrt/rpc/transport/shm"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("/dev/shm not available")
	}
	cfg := common.DefaultChannelConfig(fmt.Sprintf("shelltest_%d_%d", os.Getpid(), time.Now().UnixNano()))
	cfg.ChunkSize = 256

	ch, err := shm.Listen(cfg)
	require.NoError(t, err)
	h, err := server.NewHost(common.HostConfig{
		Channel:   cfg,
		Shards:    []common.HostShard{{ShardID: 1, Type: common.ShardTypeLocal}, {ShardID: 2, Type: common.ShardTypeLocal}},
		MetaGroup: 1,
	}, ch)
	require.NoError(t, err)
	h.RegisterService("echo", func(_ context.Context, call service.Call) ([]byte, error) {
		return call.Args, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	channel, detach, err := util.Attach(cfg, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = detach()
		cancel()
		<-done
		_ = h.Close()
	})

	out := &bytes.Buffer{}
	registry := metrics.NewRegistry()
	return &session{
		kv:     client.NewKVClient(channel, registry),
		invoke: client.NewInvokeClient(channel, serializer.NewJSONSerializer(), common.SourceWorker, entityid.NewGenerator(1), registry),
		out:    out,
		group:  1,
	}, out
}

func execLine(t *testing.T, s *session, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, s.exec(context.Background(), line), line)
	return out.String()
}

func TestShellKV(t *testing.T) {
	s, out := newSession(t)

	assert.Equal(t, "OK\n", execLine(t, s, out, "insert a hello world"))
	assert.Equal(t, "hello world\n", execLine(t, s, out, "get a"))
	assert.Error(t, s.exec(context.Background(), "insert a again"), "key exists")
	assert.Equal(t, "OK\n", execLine(t, s, out, "upsert a again"))
	assert.Equal(t, "OK\n", execLine(t, s, out, "update a third"))
	assert.Equal(t, "OK\n", execLine(t, s, out, "insert b x"))
	assert.Equal(t, "a = third\nb = x\n(2 rows)\n", execLine(t, s, out, "scan"))
	assert.Equal(t, "b = x\n(1 rows)\n", execLine(t, s, out, "scan b"))
	assert.Equal(t, "OK\n", execLine(t, s, out, "delete a"))
	assert.Equal(t, "(not found)\n", execLine(t, s, out, "get a"))

	assert.Equal(t, "1\n", execLine(t, s, out, "group"))
	execLine(t, s, out, "group 2")
	assert.Equal(t, "(not found)\n", execLine(t, s, out, "get b"))
	assert.Equal(t, "shmrt[2]> ", s.prompt())
}

func TestShellTxn(t *testing.T) {
	s, out := newSession(t)

	assert.Contains(t, execLine(t, s, out, "begin"), "BEGIN")
	assert.Contains(t, s.prompt(), "txn")
	assert.Error(t, s.exec(context.Background(), "begin"))
	assert.Error(t, s.exec(context.Background(), "group 2"))

	execLine(t, s, out, "insert k v")
	assert.Equal(t, "v\n", execLine(t, s, out, "get k"), "own writes are visible")
	assert.Equal(t, "COMMIT (1 mutations)\n", execLine(t, s, out, "commit"))
	assert.Equal(t, "v\n", execLine(t, s, out, "get k"))

	execLine(t, s, out, "begin")
	execLine(t, s, out, "delete k")
	assert.Equal(t, "ROLLBACK\n", execLine(t, s, out, "rollback"))
	assert.Equal(t, "v\n", execLine(t, s, out, "get k"))

	assert.Error(t, s.exec(context.Background(), "commit"))
}

func TestShellInvokeAndPartition(t *testing.T) {
	s, out := newSession(t)

	assert.Equal(t, "{\"a\": 1}\n", execLine(t, s, out, `invoke echo {"a": 1}`))
	assert.Equal(t, fmt.Sprintf("%d\n", 1<<12|5), execLine(t, s, out, "partition 7 5"))
	assert.Equal(t, fmt.Sprintf("%d\n", 2<<12), execLine(t, s, out, "partition 7"))
}

func TestShellErrors(t *testing.T) {
	s := &session{out: &bytes.Buffer{}}

	tests := []struct {
		line    string
		wantErr string
	}{
		{"get", "usage: get <key>"},
		{"insert k", "usage: insert <key> <value>"},
		{"frobnicate", `unknown command "frobnicate"`},
		{"group x", "group must be a number"},
		{"rollback", "no open transaction"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := s.exec(context.Background(), tt.line)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, s.exec(context.Background(), "   "))
	assert.ErrorIs(t, s.exec(context.Background(), "exit"), errQuit)
}
