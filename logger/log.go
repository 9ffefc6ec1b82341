package logger

import "github.com/oarkflow/log"

// DefaultLogger implements the Logger interface using oarkflow/log.
type DefaultLogger struct {
	logger *log.Logger
	fields []Field
}

func NewDefaultLogger(loggers ...*log.Logger) *DefaultLogger {
	var logger *log.Logger
	if len(loggers) > 0 {
		logger = loggers[0]
	} else {
		logger = &log.DefaultLogger
	}
	return &DefaultLogger{logger: logger}
}

// With returns a logger that adds fields to every entry.
func (l *DefaultLogger) With(fields ...Field) *DefaultLogger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &DefaultLogger{logger: l.logger, fields: merged}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	if l.logger == nil {
		return
	}
	l.logger.Debug().Map(l.flatten(fields)).Msg(msg)
}

func (l *DefaultLogger) Info(msg string, fields ...Field) {
	if l.logger == nil {
		return
	}
	l.logger.Info().Map(l.flatten(fields)).Msg(msg)
}

func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	if l.logger == nil {
		return
	}
	l.logger.Warn().Map(l.flatten(fields)).Msg(msg)
}

func (l *DefaultLogger) Error(msg string, fields ...Field) {
	if l.logger == nil {
		return
	}
	l.logger.Error().Map(l.flatten(fields)).Msg(msg)
}

// flatten merges the bound fields and the call fields into one map.
func (l *DefaultLogger) flatten(fields []Field) map[string]any {
	kv := make(map[string]any, len(l.fields)+len(fields))
	for _, field := range l.fields {
		kv[field.Key] = field.Value
	}
	for _, field := range fields {
		kv[field.Key] = field.Value
	}
	return kv
}
