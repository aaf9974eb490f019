package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/serialport"
)

// Option is a functional option for configuring a Session.
type Option interface {
	apply(s *Session) error
}

type optFunc func(*Session) error

func (f optFunc) apply(s *Session) error { return f(s) }

// WithAliases registers the alias table: friendly names mapped to relay
// IDs in [1, 16]. Names are case-folded; two names that collide after
// folding are rejected.
func WithAliases(aliases map[string]int) Option {
	return optFunc(func(s *Session) error {
		for name, id := range aliases {
			if name == "" {
				return fmt.Errorf("relay: empty alias name for relay %d", id)
			}
			if id < MinRelayID || id > MaxRelayID {
				return fmt.Errorf("%w: %q -> %d", ErrAliasOutOfRange, name, id)
			}

			folded := strings.ToLower(name)
			if _, exists := s.aliases[folded]; exists {
				return fmt.Errorf("%w: %q", ErrDuplicateAlias, name)
			}
			s.aliases[folded] = id
		}

		return nil
	})
}

// WithReadTimeout sets the serial read timeout used when the port is opened.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("relay: invalid read timeout: %v", d)
		}
		s.readTimeout = d

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Session) error {
		if l == nil {
			return fmt.Errorf("relay: logger is nil")
		}
		s.logger = l

		return nil
	})
}

// WithOpener replaces the port opener. Tests use it to substitute
// in-memory ports.
func WithOpener(opener serialport.Opener) Option {
	return optFunc(func(s *Session) error {
		if opener == nil {
			return fmt.Errorf("relay: opener is nil")
		}
		s.opener = opener

		return nil
	})
}
