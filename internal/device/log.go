package device

import "log/slog"

// Log implements every capability by writing structured log lines. It is the
// default on headless hosts.
type Log struct {
	Logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{Logger: logger}
}

func (l *Log) Speak(text string) error {
	l.log("speak", "text", text)
	return nil
}

func (l *Log) Stop() error {
	l.log("speech stopped")
	return nil
}

func (l *Log) Vibrate(pattern []int) error {
	l.log("vibrate", "pattern", pattern)
	return nil
}

func (l *Log) Cancel() error {
	l.log("vibration cancelled")
	return nil
}

func (l *Log) Dial(number string) error {
	l.log("dial", "number", number)
	return nil
}

func (l *Log) Show(text string) error {
	l.log("indicator shown", "text", text)
	return nil
}

func (l *Log) Hide() error {
	l.log("indicator hidden")
	return nil
}

func (l *Log) log(msg string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Info(msg, append([]any{"component", "device"}, args...)...)
}
