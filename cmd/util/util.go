package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport/shm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. SHMRT_CHANNEL)
	EnvPrefix = "shmrt"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read SHMRT_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Channel flags
// --------------------------------------------------------------------------

// SetupChannelFlags adds the flags describing the shared memory channel to a command
func SetupChannelFlags(cmd *cobra.Command) {
	def := common.DefaultChannelConfig("shmrt")

	key := "channel"
	cmd.PersistentFlags().String(key, def.Name, WrapString("Name of the channel. The host creates the queues <name>_h2w and <name>_w2h in /dev/shm"))

	key = "chunk-count"
	cmd.PersistentFlags().Uint32(key, def.ChunkCount, WrapString("Number of chunks per queue (only used by the host, the worker reads it from the segment)"))

	key = "chunk-size"
	cmd.PersistentFlags().Uint32(key, def.ChunkSize, WrapString("Size of one chunk in bytes including the chunk header (only used by the host)"))

	key = "handler-workers"
	cmd.PersistentFlags().Int(key, def.Workers, WrapString("Number of goroutines handling incoming requests"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, def.Timeout, WrapString("Timeout for calls and writes without a deadline (e.g. 5s)"))

	key = "max-message-size"
	cmd.PersistentFlags().Uint32(key, def.MaxMessageSize, WrapString("Largest encoded message in bytes, larger incoming messages are dropped"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// GetChannelConfig reads the channel configuration from viper
func GetChannelConfig() (common.ChannelConfig, error) {
	conf := common.ChannelConfig{
		Name:       viper.GetString("channel"),
		ChunkCount: viper.GetUint32("chunk-count"),
		ChunkSize:  viper.GetUint32("chunk-size"),
		Workers:    viper.GetInt("handler-workers"),
		Timeout:    viper.GetDuration("timeout"),

		MaxMessageSize: viper.GetUint32("max-message-size"),
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 5 * time.Second
	}
	return conf, conf.Validate()
}

// InitLogging validates the configured log level and initializes the loggers
func InitLogging() error {
	level := viper.GetString("log-level")
	if !common.ValidLogLevel(level) {
		return fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", level)
	}
	common.InitLoggers(level)
	return nil
}

// SignalContext returns a context that is cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Attach dials the channel of a running host and serves it in the background,
// so calls receive their responses. setup, if not nil, runs before serving
// starts (e.g. to register a handler). The returned function stops serving and
// detaches.
func Attach(conf common.ChannelConfig, setup func(*shm.Channel)) (*shm.Channel, func() error, error) {
	channel, err := shm.Dial(conf)
	if err != nil {
		return nil, nil, err
	}
	if setup != nil {
		setup(channel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = channel.Serve(ctx)
	}()

	detach := func() error {
		cancel()
		<-served
		return channel.Close()
	}
	return channel, detach, nil
}
