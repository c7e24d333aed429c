// Package logsink serializes drone log output into two append-only files:
// an error log and a system log.
package logsink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Kind selects the destination stream of a record.
type Kind int

const (
	System Kind = iota
	Error
)

func (k Kind) String() string {
	if k == Error {
		return "error"
	}
	return "system"
}

// TimestampLayout is the prefix format of every written line.
const TimestampLayout = "[2006-01-02 15:04:05]"

// Options configures a sink.
type Options struct {
	Dir        string
	ErrorFile  string
	SystemFile string

	// ID and Version appear in the startup banner.
	ID      string
	Version string
}

type record struct {
	kind Kind
	text string
	at   time.Time
}

// Sink owns both log files. Records are queued by any goroutine and
// written by the single goroutine running Run.
type Sink struct {
	errorPath  string
	systemPath string

	errorFile  *os.File
	systemFile *os.File

	mu      sync.Mutex
	queue   []record
	offline bool
	notify  chan struct{}
	done    chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// Open creates the log directory and both files, and writes the startup
// banner to each.
func Open(opts Options) (*Sink, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	s := &Sink{
		errorPath:  filepath.Join(opts.Dir, opts.ErrorFile),
		systemPath: filepath.Join(opts.Dir, opts.SystemFile),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		now:        time.Now,
	}

	var err error
	if s.errorFile, err = openAppend(s.errorPath); err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	if s.systemFile, err = openAppend(s.systemPath); err != nil {
		s.errorFile.Close()
		return nil, fmt.Errorf("open system log: %w", err)
	}

	banner := fmt.Sprintf("Starting swarm drone v.%s. id = %s", opts.Version, opts.ID)
	line := s.format(banner, s.now())
	if err := writeSync(s.errorFile, line); err != nil {
		s.closeFiles()
		return nil, fmt.Errorf("write banner: %w", err)
	}
	if err := writeSync(s.systemFile, line); err != nil {
		s.closeFiles()
		return nil, fmt.Errorf("write banner: %w", err)
	}

	return s, nil
}

// Record queues text for the given stream. It never blocks on file I/O.
// Records after Offline are discarded.
func (s *Sink) Record(kind Kind, text string) {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, record{kind: kind, text: text, at: s.now()})
	s.mu.Unlock()

	s.wake()
}

// Errorf is shorthand for Record(Error, fmt.Sprintf(...)).
func (s *Sink) Errorf(format string, args ...any) {
	s.Record(Error, fmt.Sprintf(format, args...))
}

// Systemf is shorthand for Record(System, fmt.Sprintf(...)).
func (s *Sink) Systemf(format string, args ...any) {
	s.Record(System, fmt.Sprintf(format, args...))
}

// Run writes queued records until Offline is called and the queue is
// empty. Write failures are reported on stderr; the sink keeps going.
func (s *Sink) Run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		offline := s.offline
		s.mu.Unlock()

		for _, r := range batch {
			if err := s.write(r); err != nil {
				fmt.Fprintf(os.Stderr, "logsink: %v\n", err)
			}
		}

		if len(batch) == 0 {
			if offline {
				return
			}
			<-s.notify
		}
	}
}

// Offline tells Run to exit once everything already recorded is written.
func (s *Sink) Offline() {
	s.mu.Lock()
	s.offline = true
	s.mu.Unlock()

	s.wake()
}

// Close takes the sink offline, waits for Run to drain, and closes the
// files. Run must have been started.
func (s *Sink) Close() error {
	s.Offline()
	<-s.done
	return s.closeFiles()
}

// Paths returns the error and system log file paths.
func (s *Sink) Paths() (errorLog, systemLog string) {
	return s.errorPath, s.systemPath
}

func (s *Sink) write(r record) error {
	f := s.systemFile
	if r.kind == Error {
		f = s.errorFile
	}
	if err := writeSync(f, s.format(r.text, r.at)); err != nil {
		return fmt.Errorf("write %s log: %w", r.kind, err)
	}
	return nil
}

// lineEscaper keeps every record on a single timestamped line.
var lineEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

func (s *Sink) format(text string, at time.Time) string {
	text = lineEscaper.Replace(strings.TrimRight(text, "\r\n"))
	return at.Format(TimestampLayout) + " - " + text + "\n"
}

func (s *Sink) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Sink) closeFiles() error {
	return errors.Join(s.errorFile.Close(), s.systemFile.Close())
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// writeSync flushes every line to disk so nothing is lost on a crash.
func writeSync(f *os.File, line string) error {
	if _, err := f.WriteString(line); err != nil {
		return err
	}
	return f.Sync()
}
