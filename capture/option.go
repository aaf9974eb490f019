package capture

import (
	"fmt"
	"time"

	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/serialport"
)

// Option is a functional option for configuring a Manager.
type Option interface {
	apply(m *Manager) error
}

type optFunc func(*Manager) error

func (f optFunc) apply(m *Manager) error { return f(m) }

// WithPrefix prepends a fixed prefix to every log filename.
func WithPrefix(prefix string) Option {
	return optFunc(func(m *Manager) error {
		m.prefix = prefix
		return nil
	})
}

// WithTimestamps enables the per-line timestamp prefix.
func WithTimestamps(enabled bool) Option {
	return optFunc(func(m *Manager) error {
		m.timestamps = enabled
		return nil
	})
}

// WithStopTimeout bounds how long Stop waits for workers to exit.
func WithStopTimeout(d time.Duration) Option {
	return optFunc(func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("capture: invalid stop timeout: %v", d)
		}
		m.stopTimeout = d

		return nil
	})
}

// WithReadPollTimeout sets the per-read timeout on DUT ports.
func WithReadPollTimeout(d time.Duration) Option {
	return optFunc(func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("capture: invalid read poll timeout: %v", d)
		}
		m.readPoll = d

		return nil
	})
}

// WithLogger sets the logger for the manager and its workers.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(m *Manager) error {
		if l == nil {
			return fmt.Errorf("capture: logger is nil")
		}
		m.logger = l

		return nil
	})
}

// WithOpener replaces the port opener. Tests use it to substitute
// in-memory ports.
func WithOpener(opener serialport.Opener) Option {
	return optFunc(func(m *Manager) error {
		if opener == nil {
			return fmt.Errorf("capture: opener is nil")
		}
		m.opener = opener

		return nil
	})
}
