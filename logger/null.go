package logger

// NullLogger discards everything. Tests use it to keep output quiet.
type NullLogger struct{}

func (l *NullLogger) Debug(msg string, fields ...Field) {}

func (l *NullLogger) Info(msg string, fields ...Field) {}

func (l *NullLogger) Warn(msg string, fields ...Field) {}

func (l *NullLogger) Error(msg string, fields ...Field) {}

func NewNullLogger() *NullLogger {
	return &NullLogger{}
}
