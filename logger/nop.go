package logger

// NopLogger discards every log record. Handy as a default in tests and in
// components where the caller did not supply a logger.
type NopLogger struct {
	level Level
}

var _ Logger = (*NopLogger)(nil)

func NewNop() *NopLogger {
	return &NopLogger{level: ErrorLevel}
}

func (l *NopLogger) Debug(string, ...any) {}
func (l *NopLogger) Info(string, ...any)  {}
func (l *NopLogger) Warn(string, ...any)  {}
func (l *NopLogger) Error(string, ...any) {}
func (l *NopLogger) Fatal(string, ...any) {}

func (l *NopLogger) With(...any) Logger { return l }

func (l *NopLogger) Level() Level { return l.level }

func (l *NopLogger) SetLevel(level Level) { l.level = level }
