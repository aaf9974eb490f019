// Package relay implements the thread-safe session that owns the relay
// board's serial connection.
//
// A Session serializes every mutating call behind one lock, so frames from
// concurrent callers never interleave on the wire. It also keeps the
// optimistic per-relay state mirror: the protocol has no query function, so
// the mirror tracks the last commanded state, updated only after a
// successful send.
package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/relayproto"
	"github.com/anchorlab/go-hwrig/serialport"
)

// BaudRate is the fixed line speed of the relay board.
const BaudRate = 9600

// User-facing relay ID bounds. Relay IDs are 1-based; the wire-level coil
// index is always RelayID-1. The two spaces must never cross unconverted.
const (
	MinRelayID = 1
	MaxRelayID = 16

	// RelayCount is the number of channels on the board.
	RelayCount = MaxRelayID - MinRelayID + 1
)

// DefaultReadTimeout is the serial read timeout applied when opening the
// relay port. The board never initiates traffic; the timeout only matters
// for diagnostic reads.
const DefaultReadTimeout = time.Second

var (
	// ErrNotConnected indicates an operation on a session whose port is not open.
	ErrNotConnected = errors.New("relay: not connected to relay board")

	// ErrRelayOutOfRange indicates a user-facing relay ID outside [1, 16].
	ErrRelayOutOfRange = errors.New("relay: relay id out of range [1, 16]")

	// ErrUnknownAlias indicates an alias lookup for a name that was never registered.
	ErrUnknownAlias = errors.New("relay: unknown relay alias")

	// ErrDuplicateAlias indicates two aliases that collide after case folding.
	ErrDuplicateAlias = errors.New("relay: duplicate relay alias")

	// ErrAliasOutOfRange indicates an alias registered against a relay ID outside [1, 16].
	ErrAliasOutOfRange = errors.New("relay: alias maps to relay id out of range [1, 16]")
)

// Session owns the connection to the relay board.
//
// It is safe for concurrent use from multiple goroutines and spawns none
// itself. The alias table is built once at construction and immutable
// afterwards.
type Session struct {
	portName    string
	readTimeout time.Duration
	opener      serialport.Opener
	logger      logger.Logger

	// aliases maps case-folded alias names to relay IDs.
	aliases map[string]int

	mu    sync.Mutex
	port  serialport.Port
	state [RelayCount]bool // indexed by hardware coil index
}

// NewSession creates a Session for the named serial port. The port is not
// opened until Connect.
//
// The alias table supplied via WithAliases is validated here: names must be
// unique after case folding and must map into [1, 16].
func NewSession(portName string, opts ...Option) (*Session, error) {
	if portName == "" {
		return nil, errors.New("relay: port name is empty")
	}

	s := &Session{
		portName:    portName,
		readTimeout: DefaultReadTimeout,
		opener:      serialport.Open,
		logger:      logger.GetLogger(),
		aliases:     make(map[string]int),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Connect opens the serial link to the relay board at the fixed 9600 baud.
// Connecting an already-connected session is a no-op.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	port, err := s.opener(s.portName, serialport.Mode{
		BaudRate:    BaudRate,
		ReadTimeout: s.readTimeout,
	})
	if err != nil {
		return fmt.Errorf("relay: connect %s: %w", s.portName, err)
	}

	s.port = port
	s.logger.Info("connected to relay board", "port", s.portName)

	return nil
}

// Disconnect closes the serial link. It is idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("relay: disconnect %s: %w", s.portName, err)
	}

	s.logger.Info("disconnected from relay board", "port", s.portName)

	return nil
}

// Connected reports whether the session currently holds an open port.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port != nil
}

// SetRelay switches one relay by its user-facing ID (1-16).
//
// The ID is converted to the hardware coil index (ID-1), encoded and
// written under the session lock; the state mirror is updated only after
// the write succeeds. Write failures surface immediately and are never
// retried.
func (s *Session) SetRelay(id int, on bool) error {
	if id < MinRelayID || id > MaxRelayID {
		return fmt.Errorf("%w: %d", ErrRelayOutOfRange, id)
	}

	index := id - 1
	frame, err := relayproto.EncodeSetRelay(index, on)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("relay: write set-relay frame for relay %d: %w", id, err)
	}

	s.state[index] = on
	s.logger.Debug("relay switched", "relay", id, "on", on)

	return nil
}

// RelayOn switches the relay ON.
func (s *Session) RelayOn(id int) error {
	return s.SetRelay(id, true)
}

// RelayOff switches the relay OFF.
func (s *Session) RelayOff(id int) error {
	return s.SetRelay(id, false)
}

// ResetAll sends the fixed all-OFF frame and clears the state mirror.
func (s *Session) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}
	if _, err := s.port.Write(relayproto.ResetAllFrame()); err != nil {
		return fmt.Errorf("relay: write reset-all frame: %w", err)
	}

	s.state = [RelayCount]bool{}
	s.logger.Debug("all relays reset")

	return nil
}

// SendRaw writes raw bytes to the relay port under the session lock.
// Escape hatch for debugging and board bring-up; no framing is applied.
func (s *Session) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}
	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("relay: write raw bytes: %w", err)
	}

	return nil
}

// ResolveAlias returns the relay ID registered for the given alias name.
// The lookup is case-insensitive.
func (s *Session) ResolveAlias(name string) (int, error) {
	id, ok := s.aliases[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlias, name)
	}

	return id, nil
}

// State returns the last commanded state of one relay from the mirror.
func (s *Session) State(id int) (bool, error) {
	if id < MinRelayID || id > MaxRelayID {
		return false, fmt.Errorf("%w: %d", ErrRelayOutOfRange, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state[id-1], nil
}

// States returns a snapshot of the state mirror keyed by relay ID.
func (s *Session) States() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[int]bool, RelayCount)
	for index, on := range s.state {
		states[index+1] = on
	}

	return states
}
