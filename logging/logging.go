// ABOUTME: Structured logger construction shared by every component
// ABOUTME: charmbracelet/log output to stderr or a lumberjack-rotated file, plus a badger adapter
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Format string
	// File enables rotating file output instead of stderr.
	File   string
	Output io.Writer
}

// New builds the root logger. The returned closer releases the log file, if
// any.
func New(opts Options) (*log.Logger, io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var formatter log.Formatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	switch {
	case opts.Output != nil:
		out = opts.Output
	case opts.File != "":
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = rotator
		closer = rotator
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return logger, closer, nil
}

// Tree hands out component loggers and applies level changes to all of
// them. Child loggers copy their level at creation, so a change on the root
// alone would not reach them.
type Tree struct {
	mu       sync.Mutex
	root     *log.Logger
	children []*log.Logger
}

func NewTree(root *log.Logger) *Tree {
	return &Tree{root: root}
}

// Root returns the untagged logger.
func (t *Tree) Root() *log.Logger {
	return t.root
}

// Component returns a child logger tagged with the component name.
func (t *Tree) Component(name string) *log.Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := t.root.WithPrefix(name)
	t.children = append(t.children, child)
	return child
}

// SetLevel applies a level string to the root and every component logger.
func (t *Tree) SetLevel(level string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root.SetLevel(parsed)
	for _, child := range t.children {
		child.SetLevel(parsed)
	}
	return nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Badger adapts a logger to badger's Logger interface. Badger is chatty at
// info level, so its info and debug output is demoted to debug.
type Badger struct {
	Logger *log.Logger
}

func (b Badger) Errorf(format string, args ...interface{}) {
	b.Logger.Errorf(strings.TrimSpace(format), args...)
}

func (b Badger) Warningf(format string, args ...interface{}) {
	b.Logger.Warnf(strings.TrimSpace(format), args...)
}

func (b Badger) Infof(format string, args ...interface{}) {
	b.Logger.Debugf(strings.TrimSpace(format), args...)
}

func (b Badger) Debugf(format string, args ...interface{}) {
	b.Logger.Debugf(strings.TrimSpace(format), args...)
}
