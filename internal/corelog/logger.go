// Package corelog provides the structured logging abstraction used across
// the engine. It mirrors the teacher's pkg/core.Logger so call sites never
// depend on a concrete logging library directly.
package corelog

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Logger is the logging contract every component depends on.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that includes the given key/value pairs
	// on every subsequent line.
	WithFields(fields map[string]interface{}) Logger

	// WithContext extracts a request/instance id from ctx, if present, and
	// attaches it as a field.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{}

// WithInstanceID stashes an instance id on the context for WithContext to pick up.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

type stdLogger struct {
	err    *log.Logger
	warn   *log.Logger
	info   *log.Logger
	debug  *log.Logger
	fields map[string]interface{}
}

// New creates the default logger, writing level-prefixed lines to stderr
// (errors/warnings) and stdout (info/debug).
func New() Logger {
	flags := log.LstdFlags
	return &stdLogger{
		err:   log.New(os.Stderr, "[ERROR] ", flags),
		warn:  log.New(os.Stderr, "[WARN] ", flags),
		info:  log.New(os.Stdout, "[INFO] ", flags),
		debug: log.New(os.Stdout, "[DEBUG] ", flags),
	}
}

func (l *stdLogger) fieldSuffix() string {
	if len(l.fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	return " {" + strings.Join(parts, " ") + "}"
}

func (l *stdLogger) Error(args ...interface{}) { l.err.Print(append(args, l.fieldSuffix())...) }
func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.err.Printf(format+"%s", append(args, l.fieldSuffix())...)
}
func (l *stdLogger) Warn(args ...interface{}) { l.warn.Print(append(args, l.fieldSuffix())...) }
func (l *stdLogger) Warnf(format string, args ...interface{}) {
	l.warn.Printf(format+"%s", append(args, l.fieldSuffix())...)
}
func (l *stdLogger) Info(args ...interface{}) { l.info.Print(append(args, l.fieldSuffix())...) }
func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.info.Printf(format+"%s", append(args, l.fieldSuffix())...)
}
func (l *stdLogger) Debug(args ...interface{}) { l.debug.Print(append(args, l.fieldSuffix())...) }
func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.debug.Printf(format+"%s", append(args, l.fieldSuffix())...)
}

func (l *stdLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{err: l.err, warn: l.warn, info: l.info, debug: l.debug, fields: merged}
}

func (l *stdLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok && id != "" {
		return l.WithFields(map[string]interface{}{"instanceId": id})
	}
	return l
}

// Noop returns a logger that discards everything; used in tests.
func Noop() Logger { return &noopLogger{} }

type noopLogger struct{}

func (*noopLogger) Error(...interface{})                           {}
func (*noopLogger) Errorf(string, ...interface{})                  {}
func (*noopLogger) Warn(...interface{})                            {}
func (*noopLogger) Warnf(string, ...interface{})                   {}
func (*noopLogger) Info(...interface{})                            {}
func (*noopLogger) Infof(string, ...interface{})                   {}
func (*noopLogger) Debug(...interface{})                           {}
func (*noopLogger) Debugf(string, ...interface{})                  {}
func (*noopLogger) WithFields(map[string]interface{}) Logger       { return &noopLogger{} }
func (*noopLogger) WithContext(context.Context) Logger             { return &noopLogger{} }
