// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a Logger and attach fields; the Service owns sink
// construction and can hot-swap the root logger when configuration
// changes without invalidating handed-out Loggers.
package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one typed attribute to a log event.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func I64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }

func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Dur(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }

func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Err(err error) Field { return func(e *zerolog.Event) { e.Err(err) } }

// Logger is a named view onto the service root. Copies are cheap and safe
// for concurrent use.
type Logger struct {
	svc    *Service
	name   string
	fields []Field
}

// With returns a child logger carrying extra fields on every event.
func (l Logger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return Logger{svc: l.svc, name: l.name, fields: merged}
}

// Named returns a child logger with a dotted component suffix.
func (l Logger) Named(name string) Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return Logger{svc: l.svc, name: name, fields: l.fields}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(lvl zerolog.Level, msg string, fields []Field) {
	root := l.root()
	e := root.WithLevel(lvl)
	if l.name != "" {
		e.Str("svc", l.name)
	}
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		f(e)
	}
	e.Msg(msg)
}

func (l Logger) root() *zerolog.Logger {
	if l.svc == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return l.svc.current()
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() Logger { return Logger{} }
