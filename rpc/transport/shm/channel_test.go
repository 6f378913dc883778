package shm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/shmrt/lib/nativebuf"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testConfig(t *testing.T) common.ChannelConfig {
	t.Helper()
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("/dev/shm not available")
	}
	name := fmt.Sprintf("chtest_%d_%s_%d", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	cfg := common.DefaultChannelConfig(name)
	cfg.ChunkCount = 8
	cfg.ChunkSize = 128
	cfg.Timeout = time.Second
	return cfg
}

// pair connects a host and a worker channel and serves both.
func pair(t *testing.T, hostHandler transport.HandleFunc) (host, worker *Channel) {
	t.Helper()
	cfg := testConfig(t)

	host, err := Listen(cfg)
	require.NoError(t, err)
	worker, err = Dial(cfg)
	require.NoError(t, err)

	if hostHandler != nil {
		host.RegisterHandler(hostHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, ch := range []*Channel{host, worker} {
		wg.Add(1)
		go func(ch *Channel) {
			defer wg.Done()
			_ = ch.Serve(ctx)
		}(ch)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		assert.NoError(t, worker.Close())
		assert.NoError(t, host.Close())
	})
	return host, worker
}

// echoGet answers a KVGet with the key as value.
func echoGet(_ context.Context, msg common.Message) common.Message {
	req, ok := msg.(*common.KVGet)
	if !ok {
		return nil
	}
	resp := &common.KVGetResponse{Value: nativebuf.From(req.Key.Copy())}
	resp.SetToken(req.GetToken())
	return resp
}

func call(t *testing.T, ch *Channel, key string) (*common.KVGetResponse, error) {
	t.Helper()
	req := &common.KVGet{Key: nativebuf.From([]byte(key))}
	defer req.Free()
	resp, err := ch.Call(context.Background(), req)
	if err != nil {
		return nil, err
	}
	got, ok := resp.(*common.KVGetResponse)
	require.True(t, ok, "unexpected response %s", resp.Kind())
	return got, nil
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestCallResponse(t *testing.T) {
	_, worker := pair(t, echoGet)

	resp, err := call(t, worker, "hello")
	require.NoError(t, err)
	defer resp.Free()
	assert.Equal(t, "hello", string(resp.Value.Bytes()))

	stats := worker.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(1), stats.Received)
}

func TestCallLargeMessage(t *testing.T) {
	_, worker := pair(t, echoGet)

	// spans many chunks of 128 bytes
	key := strings.Repeat("k", 5000)
	resp, err := call(t, worker, key)
	require.NoError(t, err)
	defer resp.Free()
	assert.Equal(t, key, string(resp.Value.Bytes()))
}

func TestConcurrentCallsCorrelate(t *testing.T) {
	_, worker := pair(t, echoGet)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d-%s", i, strings.Repeat("x", i*17))
			resp, err := call(t, worker, key)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Free()
			assert.Equal(t, key, string(resp.Value.Bytes()))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, worker.Stats().Pending)
}

func TestBothDirections(t *testing.T) {
	host, worker := pair(t, echoGet)
	worker.RegisterHandler(echoGet)

	resp, err := call(t, host, "from host")
	require.NoError(t, err)
	defer resp.Free()
	assert.Equal(t, "from host", string(resp.Value.Bytes()))
}

func TestUnknownTokenDropped(t *testing.T) {
	host, worker := pair(t, echoGet)

	stray := &common.KVGetResponse{}
	stray.SetToken(999)
	require.NoError(t, host.Post(stray))

	require.Eventually(t, func() bool {
		return worker.Stats().UnknownTokens == 1
	}, time.Second, 10*time.Millisecond)

	// the channel keeps working afterwards
	resp, err := call(t, worker, "after")
	require.NoError(t, err)
	defer resp.Free()
	assert.Equal(t, "after", string(resp.Value.Bytes()))
}

func TestEventsReachHandler(t *testing.T) {
	got := make(chan []string, 1)
	_, worker := pair(t, func(_ context.Context, msg common.Message) common.Message {
		if ev, ok := msg.(*common.InvalidModelsCache); ok {
			got <- append([]string(nil), ev.Services...)
		}
		return nil
	})

	require.NoError(t, worker.Post(&common.InvalidModelsCache{Services: []string{"a", "b"}}))
	select {
	case services := <-got:
		assert.Equal(t, []string{"a", "b"}, services)
	case <-time.After(time.Second):
		t.Fatal("event not handled")
	}
}

func TestCallTimeout(t *testing.T) {
	// host without handler drops requests
	_, worker := pair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := &common.KVGet{Key: nativebuf.From([]byte("k"))}
	defer req.Free()

	_, err := worker.Call(ctx, req)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, 0, worker.Stats().Pending)
}

func TestClosedChannel(t *testing.T) {
	cfg := testConfig(t)
	host, err := Listen(cfg)
	require.NoError(t, err)
	require.NoError(t, host.Close())
	require.NoError(t, host.Close())

	assert.ErrorIs(t, host.Post(&common.DebugEvent{Session: "s"}), transport.ErrClosed)
	_, err = host.Call(context.Background(), &common.KVBeginTxn{})
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, host.Serve(context.Background()), transport.ErrClosed)

	_, err = Dial(cfg)
	assert.Error(t, err, "queues are removed by the owner")
}

func TestListenValidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChunkCount = 1
	_, err := Listen(cfg)
	assert.Error(t, err)
}

// stalledPair connects a host and a worker whose worker side never reads.
func stalledPair(t *testing.T, cfg common.ChannelConfig) (host, worker *Channel) {
	t.Helper()
	host, err := Listen(cfg)
	require.NoError(t, err)
	worker, err = Dial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = worker.Close()
		_ = host.Close()
	})
	return host, worker
}

func TestStalledPeer(t *testing.T) {
	t.Run("post gives up mid message", func(t *testing.T) {
		host, _ := stalledPair(t, testConfig(t))

		// far more chunks than the ring holds
		result := make(chan error, 1)
		go func() { result <- host.Post(&common.DebugEvent{Session: "s", Body: make([]byte, 4096)}) }()

		select {
		case err := <-result:
			assert.ErrorIs(t, err, transport.ErrTimeout)
		case <-time.After(3 * time.Second):
			t.Fatal("post still blocked on a peer that does not read")
		}

		closed := make(chan error, 1)
		go func() { closed <- host.Close() }()
		select {
		case err := <-closed:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("close blocked on a peer that does not read")
		}
	})

	t.Run("close fails blocked writes", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Timeout = 500 * time.Millisecond
		host, _ := stalledPair(t, cfg)

		// fill the ring so the next post waits for its first chunk
		for {
			err := host.Post(&common.DebugEvent{Session: "fill"})
			if err != nil {
				require.ErrorIs(t, err, transport.ErrTimeout)
				break
			}
		}

		posted := make(chan error, 1)
		go func() { posted <- host.Post(&common.DebugEvent{Session: "late", Body: make([]byte, 1024)}) }()
		time.Sleep(50 * time.Millisecond)

		start := time.Now()
		require.NoError(t, host.Close())
		assert.Less(t, time.Since(start), 3*time.Second)

		select {
		case err := <-posted:
			assert.Error(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("post still blocked after close")
		}
	})
}

func TestMessageSizeLimit(t *testing.T) {
	t.Run("post rejects oversized messages", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MaxMessageSize = 256
		host, err := Listen(cfg)
		require.NoError(t, err)
		defer host.Close()

		err = host.Post(&common.DebugEvent{Session: "s", Body: make([]byte, 512)})
		assert.ErrorIs(t, err, transport.ErrTooLarge)
		assert.Equal(t, uint64(0), host.Stats().Sent)
	})

	t.Run("reader drops messages above its limit", func(t *testing.T) {
		cfg := testConfig(t)
		host, err := Listen(cfg)
		require.NoError(t, err)
		small := cfg
		small.MaxMessageSize = 256
		worker, err := Dial(small)
		require.NoError(t, err)

		events := make(chan int, 4)
		worker.RegisterHandler(func(_ context.Context, msg common.Message) common.Message {
			if ev, ok := msg.(*common.DebugEvent); ok {
				events <- len(ev.Body)
			}
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = worker.Serve(ctx)
		}()
		defer func() {
			cancel()
			<-done
			_ = worker.Close()
			_ = host.Close()
		}()

		require.NoError(t, host.Post(&common.DebugEvent{Session: "s", Body: make([]byte, 1024)}))
		require.NoError(t, host.Post(&common.DebugEvent{Session: "s", Body: make([]byte, 16)}))

		select {
		case n := <-events:
			assert.Equal(t, 16, n)
		case <-time.After(2 * time.Second):
			t.Fatal("message below the limit was not delivered")
		}
		assert.NotZero(t, worker.Stats().ProtocolErrors)
	})
}
