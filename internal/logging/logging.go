// Package logging configures the process-wide zerolog logger used by every
// component, the way web3guy0-polybot and sherwood wire rs/zerolog: a
// single global logger, components log through github.com/rs/zerolog/log.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a console-friendly global logger. Call once from main.
func Setup(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}
