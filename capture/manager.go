package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/anchorlab/go-hwrig/internal/task"
	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/serialport"
)

const (
	// DefaultBaudRate is applied to DUT ports that do not specify one.
	DefaultBaudRate = 115200

	// DefaultStopTimeout bounds how long Stop waits for workers to exit.
	DefaultStopTimeout = 2 * time.Second

	// DefaultReadPollTimeout is the per-read timeout on DUT ports. It also
	// bounds worker shutdown latency, since a worker checks for stop after
	// every timed-out read.
	DefaultReadPollTimeout = 100 * time.Millisecond

	fileTimestampLayout = "20060102_150405"
)

// ErrAlreadyStarted indicates Start on a manager that is already running.
var ErrAlreadyStarted = errors.New("capture: manager already started")

// PortSpec describes one DUT port to capture.
type PortSpec struct {
	// Port is the serial device path.
	Port string

	// BaudRate defaults to DefaultBaudRate when zero.
	BaudRate int

	// Name is the friendly name used in the log filename. When empty, it is
	// derived from the device path.
	Name string
}

func (s PortSpec) name() string {
	if s.Name != "" {
		return s.Name
	}

	return sanitizePortName(s.Port)
}

// sanitizePortName makes a device path usable as a filename fragment.
func sanitizePortName(port string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "").Replace(port)
}

// PortError reports a capture failure scoped to one port. Port errors are
// isolated: they never escalate to the manager or to sibling workers.
type PortError struct {
	Name string
	Port string
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("capture: port %s (%s): %v", e.Name, e.Port, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// Manager owns the set of capture workers for one run.
//
// Start and Stop are synchronized and safe to call from multiple
// goroutines; workers never share state with each other.
type Manager struct {
	logDir      string
	prefix      string
	timestamps  bool
	readPoll    time.Duration
	stopTimeout time.Duration
	opener      serialport.Opener
	logger      logger.Logger

	mu      sync.Mutex
	started bool
	tasks   *task.Manager
	workers *xsync.MapOf[string, *worker]
	paths   []string
}

// NewManager creates a capture manager writing log files into logDir.
func NewManager(logDir string, opts ...Option) (*Manager, error) {
	if logDir == "" {
		return nil, errors.New("capture: log directory is empty")
	}

	m := &Manager{
		logDir:      logDir,
		readPoll:    DefaultReadPollTimeout,
		stopTimeout: DefaultStopTimeout,
		opener:      serialport.Open,
		logger:      logger.GetLogger(),
		workers:     xsync.NewMapOf[string, *worker](),
	}

	for _, opt := range opts {
		if err := opt.apply(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Start opens every configured port and spawns one worker per port.
//
// It returns the log file paths of the ports that started. Per-port
// failures are collected as *PortError values, joined into the returned
// error; they never prevent the remaining ports from starting. The log
// directory not being creatable is the only total failure.
func (m *Manager) Start(ports []PortSpec) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil, ErrAlreadyStarted
	}

	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create log directory: %w", err)
	}

	m.tasks = task.NewManager(context.Background(), m.logger)
	m.paths = nil
	m.started = true

	var portErrs []error
	for _, spec := range ports {
		w, perr := m.startWorker(spec)
		if perr != nil {
			m.logger.Warn("capture port failed to start",
				"port", perr.Port, "name", perr.Name, "error", perr.Err)
			portErrs = append(portErrs, perr)
			continue
		}

		m.paths = append(m.paths, w.logPath)
		m.logger.Info("capturing", "port", w.portName, "log", w.logPath)
	}

	return append([]string(nil), m.paths...), errors.Join(portErrs...)
}

// startWorker opens one port and its log file and hands the pair to a
// worker goroutine. Called with the manager lock held.
func (m *Manager) startWorker(spec PortSpec) (*worker, *PortError) {
	name := spec.name()
	fail := func(err error) *PortError {
		return &PortError{Name: name, Port: spec.Port, Err: err}
	}

	if _, exists := m.workers.Load(name); exists {
		return nil, fail(fmt.Errorf("duplicate port name %q", name))
	}

	baud := spec.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := m.opener(spec.Port, serialport.Mode{
		BaudRate:    baud,
		ReadTimeout: m.readPoll,
	})
	if err != nil {
		return nil, fail(err)
	}

	w, err := newWorker(m.logDir, m.prefix, name, spec.Port, port, m.timestamps, m.logger)
	if err != nil {
		_ = port.Close()
		return nil, fail(err)
	}

	m.workers.Store(name, w)
	if err := m.tasks.Start("capture/"+name, w.pump, w.close); err != nil {
		m.workers.Delete(name)
		w.close()
		return nil, fail(err)
	}

	return w, nil
}

// Stop signals every worker, waits with a bounded timeout and releases all
// ports and files. It is idempotent and safe under concurrent calls.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	m.tasks.Stop()
	if !m.tasks.Wait(m.stopTimeout) {
		m.logger.Warn("capture workers did not stop in time", "timeout", m.stopTimeout)
	}

	// Workers normally release their own resources on exit; force-close any
	// straggler so ports and files are never leaked. close is once-guarded,
	// so this cannot double-close.
	m.workers.Range(func(name string, w *worker) bool {
		w.close()
		m.workers.Delete(name)
		return true
	})

	m.started = false
	m.tasks = nil

	return nil
}

// LogPaths returns the log file paths of the workers that started.
func (m *Manager) LogPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.paths...)
}
