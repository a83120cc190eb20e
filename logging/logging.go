// Package logging provides the *Logger threaded through Host and Peer,
// replacing the teacher's unexported stub *Logger field
// (device/device.go's `log *Logger`, called via `peer.device.log.Verbosef`
// in device/timers.go). Backed by go.uber.org/zap, the logging library the
// rest of the retrieval pack (dep2p) uses throughout.
package logging

import "go.uber.org/zap"

type Logger struct {
	z *zap.SugaredLogger
}

// New wraps a production zap logger tagged with a component name.
func New(component string) *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.Sugar().Named(component)}
}

// Silent returns a Logger that discards everything, for tests.
func Silent() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

func (l *Logger) Verbosef(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Debugf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.z.Errorf(format, args...)
}

func (l *Logger) With(fields ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.z.Sync()
}
