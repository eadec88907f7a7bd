package logger

import (
	"github.com/teranos/etlpulse/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// The symbol is attached as a structured field, not in the message, so logs
// stay queryable by subsystem.
//
//	logger.PulseInfow(log, "Schedule fired", "schedule_id", id)

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	withSymbol(l, sym.Pulse).Infow(msg, keysAndValues...)
}

// PulseWarnw logs a warning with the Pulse symbol (꩜)
func PulseWarnw(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	withSymbol(l, sym.Pulse).Warnw(msg, keysAndValues...)
}

// PulseErrorw logs an error with the Pulse symbol (꩜)
func PulseErrorw(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	withSymbol(l, sym.Pulse).Errorw(msg, keysAndValues...)
}

// PulseOpenInfow logs graceful startup with the PulseOpen symbol (✿)
func PulseOpenInfow(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	withSymbol(l, sym.PulseOpen).Infow(msg, keysAndValues...)
}

// PulseCloseInfow logs graceful shutdown with the PulseClose symbol (❀)
func PulseCloseInfow(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	withSymbol(l, sym.PulseClose).Infow(msg, keysAndValues...)
}

// DBInfow logs storage operations with the DB symbol (⊔)
func DBInfow(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	withSymbol(l, sym.DB).Infow(msg, keysAndValues...)
}

func withSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	if l == nil {
		l = Logger
	}
	return l.With(FieldSymbol, symbol)
}
