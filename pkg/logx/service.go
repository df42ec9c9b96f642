package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./feebot.log"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Operator OperatorConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// OperatorConfig forwards records at or above MinLevel to ChatID, at most
// RatePerSec per second.
type OperatorConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// Service owns the log outputs. Apply rebuilds them in place; loggers handed
// out earlier pick up the change on their next record.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	stdout io.Writer
	op     *operatorSink
}

// New builds a Service from cfg and returns it with its root logger. sender
// may be nil and installed later with SetSender.
func New(cfg Config, sender Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{stdout: os.Stdout, op: newOperatorSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// SetSender installs the operator transport. Records produced while no sender
// is set are dropped.
func (s *Service) SetSender(sender Sender) { s.op.setSender(sender) }

// Apply swaps level and outputs. A file that cannot be opened is reported on
// stderr and skipped; with no usable output the console is used.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(s.stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.op.configure(cfg.Operator)
	if cfg.Operator.Enabled {
		outs = append(outs, s.op)
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(s.stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// Close stops the operator worker and closes the log file.
func (s *Service) Close() error {
	s.op.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}
