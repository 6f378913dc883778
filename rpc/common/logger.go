package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// shmrtLogger implements the ILogger interface with custom formatting
type shmrtLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *shmrtLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *shmrtLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *shmrtLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *shmrtLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *shmrtLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *shmrtLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *shmrtLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// output is shared by all loggers so SetLogOutput affects loggers created earlier
var output = log.New(os.Stdout, "", log.Ldate|log.Ltime)

// SetLogOutput redirects all loggers, e.g. to os.Stderr when stdout carries a protocol.
func SetLogOutput(w io.Writer) {
	output.SetOutput(w)
}

// CreateLogger implements the Factory interface - note the error return value
func CreateLogger(pkgName string) logger.ILogger {
	return &shmrtLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: output,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ValidLogLevel reports whether level is accepted by InitLoggers.
func ValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warning", "warn", "error":
		return true
	}
	return false
}

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// raftLoggers are the loggers created by dragonboat, they are only relevant for dstore groups.
var raftLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb"}

// runtimeLoggers are the loggers of this module.
var runtimeLoggers = []string{"shm", "ring", "mq", "store", "channel", "host", "service", "worker", "debug"}

// InitLoggers initializes all loggers with the custom format.
// level must be one of debug, info, warn, error (see ValidLogLevel).
func InitLoggers(level string) {
	lvl := parseLogLevel(level)

	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range raftLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	for _, name := range runtimeLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
}
