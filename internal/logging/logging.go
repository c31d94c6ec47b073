// Package logging provides application-wide logging configuration.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var debugEnabled bool

// Init initializes the global logger for interactive CLI use.
func Init(debug bool) {
	debugEnabled = debug
	zerolog.SetGlobalLevel(level(debug))
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// InitDaemon initializes the global logger for the supervisor process.
// Output goes to the given sink (the daemon log file) as JSON lines so that
// `ampa status` can tail it; stderr is mirrored when it is a terminal.
func InitDaemon(sink io.Writer, debug bool) {
	debugEnabled = debug
	zerolog.SetGlobalLevel(level(debug))
	out := sink
	if isTerminal(os.Stderr) {
		out = zerolog.MultiLevelWriter(sink, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}

func level(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
