package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options selects sinks and levels for the root logger. The zero value
// logs info and above to stderr.
type Options struct {
	// Level is the global minimum: debug, info, warn or error.
	Level string

	Console ConsoleOptions
	File    FileOptions
	Chat    ChatOptions
}

type ConsoleOptions struct {
	Enabled bool
	Level   string
	Color   bool
}

type FileOptions struct {
	Enabled bool
	Level   string
	Path    string
}

// ChatOptions forwards high-severity lines to a messaging chat. Sender is
// wired by the application after the gateway exists; Apply ignores the
// sink until then.
type ChatOptions struct {
	Enabled bool
	Level   string
	ChatID  int64
	Sender  SendFunc
}

// Service owns the root zerolog logger and rebuilds it on Apply. Handed-out
// Loggers observe swaps immediately.
type Service struct {
	root    atomic.Pointer[zerolog.Logger]
	closers atomic.Pointer[[]io.Closer]
}

// NewService builds a service with the given options applied. Errors leave
// a stderr fallback in place so early startup logging still works.
func NewService(opts Options) (*Service, error) {
	s := &Service{}
	fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
	s.root.Store(&fallback)
	if err := s.Apply(opts); err != nil {
		return s, err
	}
	return s, nil
}

// Apply rebuilds sinks from opts and atomically swaps the root. On error
// the previous root stays active.
func (s *Service) Apply(opts Options) error {
	var (
		writers []io.Writer
		closers []io.Closer
	)
	if opts.Console.Enabled {
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly, NoColor: !opts.Console.Color}
		writers = append(writers, levelCapped(w, opts.Console.Level))
	}
	if opts.File.Enabled {
		if opts.File.Path == "" {
			return fmt.Errorf("logx: file sink enabled without path")
		}
		if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0o755); err != nil {
			return fmt.Errorf("logx: create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("logx: open log file: %w", err)
		}
		writers = append(writers, levelCapped(f, opts.File.Level))
		closers = append(closers, f)
	}
	if opts.Chat.Enabled && opts.Chat.Sender != nil && opts.Chat.ChatID != 0 {
		writers = append(writers, newChatWriter(opts.Chat))
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	root := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(opts.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()

	old := s.closers.Swap(&closers)
	s.root.Store(&root)
	if old != nil {
		for _, c := range *old {
			_ = c.Close()
		}
	}
	return nil
}

// Logger returns the unnamed root logger.
func (s *Service) Logger() Logger { return Logger{svc: s} }

// Named returns a logger tagged with a component name.
func (s *Service) Named(name string) Logger { return Logger{svc: s, name: name} }

// Close releases file sinks.
func (s *Service) Close() {
	if old := s.closers.Swap(nil); old != nil {
		for _, c := range *old {
			_ = c.Close()
		}
	}
}

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return def
	default:
		return def
	}
}

type leveledWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (lw leveledWriter) Write(p []byte) (int, error) { return lw.w.Write(p) }

func (lw leveledWriter) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	if lvl < lw.min {
		return len(p), nil
	}
	return lw.w.Write(p)
}

// levelCapped wraps w so it only receives events at or above level. An
// empty level means no per-sink cap.
func levelCapped(w io.Writer, level string) io.Writer {
	if strings.TrimSpace(level) == "" {
		return w
	}
	return leveledWriter{w: w, min: parseLevel(level, zerolog.TraceLevel)}
}
