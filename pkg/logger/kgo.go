package logger

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KgoLogger adapts a zerolog.Logger to franz-go's kgo.Logger so client
// internals land in the same structured stream as the rest of the service.
type KgoLogger struct {
	log zerolog.Logger
}

// NewKgoLogger wraps log. The kgo level follows the zerolog level, capped at
// info because franz-go is very chatty at debug.
func NewKgoLogger(log zerolog.Logger) *KgoLogger {
	return &KgoLogger{log: log.With().Str("component", "kgo").Logger()}
}

func (l *KgoLogger) Level() kgo.LogLevel {
	switch lvl := l.log.GetLevel(); {
	case lvl <= zerolog.InfoLevel:
		return kgo.LogLevelInfo
	case lvl == zerolog.WarnLevel:
		return kgo.LogLevelWarn
	case lvl == zerolog.Disabled:
		return kgo.LogLevelNone
	default:
		return kgo.LogLevelError
	}
}

func (l *KgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var ev *zerolog.Event
	switch level {
	case kgo.LogLevelError:
		ev = l.log.Error()
	case kgo.LogLevelWarn:
		ev = l.log.Warn()
	case kgo.LogLevelInfo:
		ev = l.log.Info()
	case kgo.LogLevelDebug:
		ev = l.log.Debug()
	default:
		return
	}

	for i := 0; i+1 < len(keyvals); i += 2 {
		ev = ev.Interface(fmt.Sprint(keyvals[i]), keyvals[i+1])
	}
	ev.Msg(msg)
}
