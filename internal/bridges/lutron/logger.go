package lutron

// Logger is the logging interface used throughout the package. It matches
// the structured logger in internal/infrastructure/logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Nil-safe helpers; a bridge built without a logger stays silent.

func logDebug(l Logger, msg string, kv ...any) {
	if l != nil {
		l.Debug(msg, kv...)
	}
}

func logInfo(l Logger, msg string, kv ...any) {
	if l != nil {
		l.Info(msg, kv...)
	}
}

func logWarn(l Logger, msg string, kv ...any) {
	if l != nil {
		l.Warn(msg, kv...)
	}
}

func logError(l Logger, msg string, kv ...any) {
	if l != nil {
		l.Error(msg, kv...)
	}
}
