// Package rig composes the relay session, the capture manager and the
// sequence engine into one test run with a fixed lifecycle:
//
//	connect relay -> start capture -> run sequence -> stop capture -> disconnect relay
//
// Teardown always runs once startup has begun, on every exit path
// (completion, error or cancellation). The script is parsed before any
// hardware is touched, so a malformed script never leaves a rig
// half-configured.
package rig

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/anchorlab/go-hwrig/capture"
	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/relay"
	"github.com/anchorlab/go-hwrig/sequence"
	"github.com/anchorlab/go-hwrig/serialport"
)

// DefaultLogDir is used when the configuration carries no log directory.
const DefaultLogDir = "logs"

var (
	// ErrNothingToRun indicates a configuration with neither a script nor
	// DUT ports to capture.
	ErrNothingToRun = errors.New("rig: nothing to run: no script and no DUT ports")

	// ErrNoRelayPort indicates a script without a relay port to run it against.
	ErrNoRelayPort = errors.New("rig: script execution requires a relay port")
)

// Config is the run configuration shape supplied by the caller's
// configuration provider. Loading, merging and file-format validation
// happen outside this core; relay IDs and aliases are still validated
// here because the relay session owns those rules.
type Config struct {
	// RelayPort is the relay board's serial device. Empty means no relay
	// control (capture-only run).
	RelayPort string

	// RelayAliases maps friendly names to relay IDs in [1, 16].
	RelayAliases map[string]int

	// DUTPorts are the consoles to capture for the run's duration.
	DUTPorts []capture.PortSpec

	// LogDir receives the capture log files. Defaults to DefaultLogDir.
	LogDir string

	// TimestampLines prefixes every captured line with a timestamp.
	TimestampLines bool

	// LogPrefix is prepended to every capture log filename.
	LogPrefix string

	// Script is the pre-authored command sequence. Empty means a
	// capture-only run that lasts until the context is cancelled.
	Script string
}

// Runner executes one configured test run.
type Runner struct {
	cfg    Config
	logger logger.Logger
	opener serialport.Opener
}

// Option is a functional option for configuring a Runner.
type Option interface {
	apply(r *Runner)
}

type optFunc func(*Runner)

func (f optFunc) apply(r *Runner) { f(r) }

// WithLogger sets the logger for the run.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	})
}

// WithOpener replaces the serial port opener for both the relay session
// and the capture workers. Tests use it to substitute in-memory ports.
func WithOpener(opener serialport.Opener) Option {
	return optFunc(func(r *Runner) {
		if opener != nil {
			r.opener = opener
		}
	})
}

// New validates the configuration shape and creates a Runner.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.Script != "" && cfg.RelayPort == "" {
		return nil, ErrNoRelayPort
	}
	if cfg.Script == "" && len(cfg.DUTPorts) == 0 {
		return nil, ErrNothingToRun
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}

	r := &Runner{
		cfg:    cfg,
		logger: logger.GetLogger(),
		opener: serialport.Open,
	}
	for _, opt := range opts {
		opt.apply(r)
	}

	return r, nil
}

// Report summarizes one run for the caller.
type Report struct {
	// RunID correlates every log record of this run.
	RunID string

	// LogPaths are the capture log files of the ports that started.
	LogPaths []string

	// CaptureErr aggregates the per-port capture failures of the run as
	// joined *capture.PortError values; nil when every port started.
	// Capture failures never abort the run.
	CaptureErr error
}

// Run executes the configured test run and blocks until it finishes or
// ctx is cancelled.
//
// A cancelled sequence returns sequence.ErrCanceled; relays stay at their
// last commanded state. Teardown (stop capture, then disconnect the relay
// session) runs on every exit path once startup has begun.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := r.logger.With("run_id", report.RunID)

	var session *relay.Session
	if r.cfg.RelayPort != "" {
		var err error
		session, err = relay.NewSession(r.cfg.RelayPort,
			relay.WithAliases(r.cfg.RelayAliases),
			relay.WithLogger(log),
			relay.WithOpener(r.opener),
		)
		if err != nil {
			return report, err
		}
	}

	// Parse before touching any hardware: a bad step anywhere blocks the
	// entire run.
	var steps []sequence.Step
	if r.cfg.Script != "" {
		var err error
		steps, err = sequence.Parse(r.cfg.Script, session)
		if err != nil {
			return report, err
		}
	}

	if session != nil {
		if err := session.Connect(); err != nil {
			return report, err
		}
		defer func() {
			if err := session.Disconnect(); err != nil {
				log.Error("relay disconnect failed", "error", err)
			}
		}()
	}

	manager, err := capture.NewManager(r.cfg.LogDir,
		capture.WithPrefix(r.cfg.LogPrefix),
		capture.WithTimestamps(r.cfg.TimestampLines),
		capture.WithLogger(log),
		capture.WithOpener(r.opener),
	)
	if err != nil {
		return report, err
	}

	report.LogPaths, report.CaptureErr = manager.Start(r.cfg.DUTPorts)
	// Deferred after the session's disconnect, so capture stops first.
	defer func() {
		if err := manager.Stop(); err != nil {
			log.Error("capture stop failed", "error", err)
		}
	}()

	if len(steps) > 0 {
		executor := sequence.NewExecutor(session, sequence.WithLogger(log))
		if err := executor.Run(ctx, steps); err != nil {
			return report, fmt.Errorf("rig: sequence failed: %w", err)
		}

		log.Info("sequence completed", "steps", len(steps))

		return report, nil
	}

	// Capture-only run: log until the caller cancels.
	if len(report.LogPaths) == 0 {
		return report, fmt.Errorf("rig: no capture ports started: %w", report.CaptureErr)
	}

	log.Info("capturing DUT output until cancelled", "ports", len(report.LogPaths))
	<-ctx.Done()

	return report, nil
}
