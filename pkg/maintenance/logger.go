package maintenance

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger routes cron's own messages into zerolog. Routine messages are
// logged at debug level.
type cronLogger struct {
	log zerolog.Logger
}

// CronLogger adapts a zerolog logger to cron.Logger.
func CronLogger(l zerolog.Logger) cron.Logger {
	return cronLogger{log: l}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
