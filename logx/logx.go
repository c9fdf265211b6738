package logx

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tutorforge/tutorforge/config"
)

var DefaultOpts = &Opts{
	Environment: config.Development,
}

type Opts struct {
	Environment config.Environment
}

func safe(opts ...Opts) *Opts {
	if len(opts) == 0 {
		return DefaultOpts
	}
	return &opts[0]
}

// Init configures the process-wide logger. Production logs structured JSON
// at info level; everything else gets a console writer at debug level.
func Init(opts ...Opts) {
	if safe(opts...).Environment.IsProduction() {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	} else {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Caller().Logger()
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With returns a sub-logger builder carrying shared fields, e.g. a session id.
func With() zerolog.Context {
	return log.With()
}
