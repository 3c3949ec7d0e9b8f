// Package logging builds per-host structured loggers. It keeps the
// WriterOpener abstraction the teacher's own logging.go is built around —
// a sink resolves to an io.WriteCloser, independent of the encoder wrapped
// around it — without the rest of that file's module-registry/config-reload
// machinery, which this server has no equivalent of.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WriterOpener opens a log sink for writing. Implementations should be safe
// for concurrent use.
type WriterOpener interface {
	fmt.Stringer
	OpenWriter() (io.WriteCloser, error)
}

// StdoutWriter writes to the process's stdout. Close is a no-op: stdout is
// not ours to close.
type StdoutWriter struct{}

func (StdoutWriter) String() string { return "stdout" }
func (StdoutWriter) OpenWriter() (io.WriteCloser, error) {
	return notClosable{os.Stdout}, nil
}

// StderrWriter writes to the process's stderr.
type StderrWriter struct{}

func (StderrWriter) String() string { return "stderr" }
func (StderrWriter) OpenWriter() (io.WriteCloser, error) {
	return notClosable{os.Stderr}, nil
}

// FileWriter appends to a log file at Path, creating it if necessary.
type FileWriter struct{ Path string }

func (w FileWriter) String() string { return w.Path }
func (w FileWriter) OpenWriter() (io.WriteCloser, error) {
	f, err := os.OpenFile(w.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: opening log file %s: %w", w.Path, err)
	}
	return f, nil
}

type notClosable struct{ io.Writer }

func (notClosable) Close() error { return nil }

// Level gates which log lines reach the sink. Only the three levels the
// origin server's logger distinguishes (debug, info, error) are supported.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Build constructs a *zap.Logger writing to sink at the given minimum level.
// stdout/stderr sinks get a human-readable console encoder; any other sink
// (a file) gets a JSON encoder, since file logs are typically consumed by
// another process rather than read directly by an operator.
func Build(sink WriterOpener, level Level) (*zap.Logger, error) {
	w, err := sink.OpenWriter()
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch sink.(type) {
	case StdoutWriter, StderrWriter:
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level.zapLevel())
	return zap.New(core), nil
}

// ParseLevel normalizes a configured level string, defaulting to info for
// anything unrecognized rather than failing startup over a typo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SinkFor resolves a configured sink string ("stdout", "stderr", or a file
// path) to a WriterOpener.
func SinkFor(sink string) WriterOpener {
	switch strings.ToLower(strings.TrimSpace(sink)) {
	case "stdout":
		return StdoutWriter{}
	case "stderr":
		return StderrWriter{}
	default:
		return FileWriter{Path: sink}
	}
}
