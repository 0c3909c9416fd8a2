package di

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
)

// LoggerService wraps the zerolog logger keyrotctl's commands and the
// diagnostic Pool log through.
type LoggerService struct {
	Logger zerolog.Logger
}

// NewLogger builds a logger writing to stderr, switching to pretty
// console output when stderr is an attached terminal and to bare JSON
// otherwise (piped output, CI logs).
func NewLogger(_ do.Injector) (*LoggerService, error) {
	var output zerolog.ConsoleWriter
	var logger zerolog.Logger

	if isatty.IsTerminal(os.Stderr.Fd()) {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	return &LoggerService{Logger: logger}, nil
}
