package sequence

import (
	"fmt"
	"time"
)

// Step is one parsed command of a sequence script.
//
// The set of implementations is closed: RelayStep, DelayStep and
// ResetStep. Steps are immutable once parsed.
type Step interface {
	fmt.Stringer

	// step restricts implementations to this package.
	step()
}

// RelayStep switches one relay. Relay holds the resolved user-facing ID;
// alias resolution already happened at parse time.
type RelayStep struct {
	Relay int
	On    bool
}

func (s RelayStep) step() {}

func (s RelayStep) String() string {
	state := "OFF"
	if s.On {
		state = "ON"
	}

	return fmt.Sprintf("R%d:%s", s.Relay, state)
}

// DelayStep blocks the controlling goroutine for the given duration.
type DelayStep struct {
	Duration time.Duration
}

func (s DelayStep) step() {}

func (s DelayStep) String() string {
	return fmt.Sprintf("D%d", s.Duration.Milliseconds())
}

// ResetStep switches every relay OFF.
type ResetStep struct{}

func (s ResetStep) step() {}

func (s ResetStep) String() string { return "I" }
