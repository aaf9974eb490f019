package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anchorlab/go-hwrig/logger"
)

// ErrCanceled is returned by Executor.Run when the run is cancelled
// between steps or inside a delay. Relays stay at their last commanded
// state; there is deliberately no implicit safety reset.
var ErrCanceled = errors.New("sequence: execution canceled")

// DefaultDelaySlice bounds cancellation latency inside a delay step:
// delays are slept in slices of at most this interval, with the
// cancellation signal checked per slice.
const DefaultDelaySlice = 100 * time.Millisecond

// Controller is the relay surface the executor drives.
// *relay.Session satisfies it.
type Controller interface {
	SetRelay(id int, on bool) error
	ResetAll() error
}

// Executor runs parsed steps against a relay controller on the calling
// goroutine. Only delay steps suspend it; capture workers and other
// goroutines keep running independently.
type Executor struct {
	ctrl       Controller
	logger     logger.Logger
	delaySlice time.Duration
}

// ExecutorOption is a functional option for configuring an Executor.
type ExecutorOption interface {
	apply(e *Executor)
}

type execOptFunc func(*Executor)

func (f execOptFunc) apply(e *Executor) { f(e) }

// WithLogger sets the logger for the executor.
func WithLogger(l logger.Logger) ExecutorOption {
	return execOptFunc(func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	})
}

// WithDelaySlice overrides the delay slice interval. Values <= 0 keep the
// default.
func WithDelaySlice(d time.Duration) ExecutorOption {
	return execOptFunc(func(e *Executor) {
		if d > 0 {
			e.delaySlice = d
		}
	})
}

// NewExecutor creates an Executor driving the given controller.
func NewExecutor(ctrl Controller, opts ...ExecutorOption) *Executor {
	e := &Executor{
		ctrl:       ctrl,
		logger:     logger.GetLogger(),
		delaySlice: DefaultDelaySlice,
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

// Run executes the steps in order.
//
// The first runtime failure aborts execution immediately and propagates;
// already-executed steps are not rolled back; relays stay at their last
// commanded state. Cancellation of ctx returns ErrCanceled, again without
// resetting relays.
func (e *Executor) Run(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if ctx.Err() != nil {
			e.logger.Info("sequence canceled", "at", step.String())
			return ErrCanceled
		}

		e.logger.Debug("executing step", "step", step.String())

		switch s := step.(type) {
		case RelayStep:
			if err := e.ctrl.SetRelay(s.Relay, s.On); err != nil {
				return fmt.Errorf("sequence: step %s: %w", s, err)
			}
		case DelayStep:
			if err := e.delay(ctx, s.Duration); err != nil {
				return err
			}
		case ResetStep:
			if err := e.ctrl.ResetAll(); err != nil {
				return fmt.Errorf("sequence: step %s: %w", s, err)
			}
		default:
			return fmt.Errorf("%w: unsupported step %T", ErrMalformedCommand, step)
		}
	}

	return nil
}

// RunScript parses and executes a script in one call.
func (e *Executor) RunScript(ctx context.Context, script string, aliases AliasResolver) error {
	steps, err := Parse(script, aliases)
	if err != nil {
		return err
	}

	return e.Run(ctx, steps)
}

// delay blocks for the given duration in bounded slices, polling the
// cancellation signal per slice.
func (e *Executor) delay(ctx context.Context, d time.Duration) error {
	for remaining := d; remaining > 0; remaining -= e.delaySlice {
		slice := remaining
		if slice > e.delaySlice {
			slice = e.delaySlice
		}

		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("sequence canceled during delay", "remaining", remaining)
			return ErrCanceled
		case <-timer.C:
		}
	}

	return nil
}
