package relayproto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DeviceAddress is the fixed address of the relay board. The board ships
// hard-wired to 0xFE; it is not configurable.
const DeviceAddress byte = 0xFE

// Function codes understood by the relay board.
const (
	// FuncWriteSingleCoil switches one coil on or off.
	FuncWriteSingleCoil byte = 0x05

	// FuncWriteMultipleCoils writes a run of coils in one frame. The board
	// only ever receives it as the fixed all-OFF reset frame.
	FuncWriteMultipleCoils byte = 0x0F
)

// Coil index bounds. Coils are addressed 0-15 on the wire; user-facing
// relay IDs (1-16) are converted by the relay session before reaching
// this package.
const (
	MinCoilIndex = 0
	MaxCoilIndex = 15
)

// Coil value bytes for a single-coil write: the high value byte is
// all-ones for ON and zero for OFF, the low value byte is always zero.
const (
	coilOn  byte = 0xFF
	coilOff byte = 0x00
)

// resetAllASCII is the fixed reset frame: write-multiple-coils from coil 0,
// quantity 16, two data bytes all zero. It is kept as a literal rather than
// derived from a generic multi-coil encoder; the board never receives any
// other multi-coil write.
const resetAllASCII = ":FE0F00000010020000E1\r\n"

var (
	// ErrCoilOutOfRange indicates a hardware coil index outside 0-15.
	ErrCoilOutOfRange = errors.New("relayproto: coil index out of range [0, 15]")

	// ErrMalformedFrame indicates a frame that does not follow the
	// ':' + hex + CR LF framing.
	ErrMalformedFrame = errors.New("relayproto: malformed frame")

	// ErrChecksumMismatch indicates a frame whose trailing LRC byte does not
	// match the recomputed checksum of the preceding bytes.
	ErrChecksumMismatch = errors.New("relayproto: checksum mismatch")
)

// Frame represents one decoded relay-board frame.
//
// A Frame is immutable by convention: it is either built by an encoder or
// produced by ParseFrame, never mutated afterwards.
type Frame struct {
	DeviceAddress byte
	Function      byte
	Payload       []byte
}

// Checksum computes the LRC over the frame's raw bytes: the sum of device
// address, function code and payload modulo 256, two's complemented.
func (f *Frame) Checksum() byte {
	sum := uint32(f.DeviceAddress) + uint32(f.Function)
	for _, b := range f.Payload {
		sum += uint32(b)
	}

	return lrc(sum)
}

// Pack serializes the frame to its ASCII wire form:
// ':' + uppercase hex bytes + uppercase hex checksum + CR LF.
func (f *Frame) Pack() []byte {
	raw := make([]byte, 0, 2+len(f.Payload)+1)
	raw = append(raw, f.DeviceAddress, f.Function)
	raw = append(raw, f.Payload...)
	raw = append(raw, f.Checksum())

	var sb strings.Builder
	sb.Grow(1 + 2*len(raw) + 2)
	sb.WriteByte(':')
	for _, b := range raw {
		fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteString("\r\n")

	return []byte(sb.String())
}

// Checksum computes the LRC checksum of the given raw bytes: everything
// between the ':' and the checksum byte itself.
func Checksum(data []byte) byte {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}

	return lrc(sum)
}

func lrc(sum uint32) byte {
	return byte((0x100 - (sum & 0xFF)) & 0xFF)
}

// EncodeSetRelay builds the single-coil write frame for the given hardware
// coil index (0-15) and state, serialized to wire form.
//
// The payload is the 16-bit coil address followed by the 16-bit value
// (0xFF00 for ON, 0x0000 for OFF).
func EncodeSetRelay(index int, on bool) ([]byte, error) {
	if index < MinCoilIndex || index > MaxCoilIndex {
		return nil, fmt.Errorf("%w: %d", ErrCoilOutOfRange, index)
	}

	value := coilOff
	if on {
		value = coilOn
	}

	frame := &Frame{
		DeviceAddress: DeviceAddress,
		Function:      FuncWriteSingleCoil,
		Payload:       []byte{0x00, byte(index), value, 0x00},
	}

	return frame.Pack(), nil
}

// ResetAllFrame returns the fixed write-multiple-coils frame that switches
// every coil OFF, serialized to wire form. The returned slice is a fresh
// copy the caller may retain.
func ResetAllFrame() []byte {
	return []byte(resetAllASCII)
}

// ParseFrame decodes and validates a wire frame.
//
// It fails with ErrMalformedFrame on framing violations (missing colon or
// CR LF, non-hex characters, odd digit count, too few bytes) and with
// ErrChecksumMismatch when the trailing byte does not match the recomputed
// LRC.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) < 2 || raw[0] != ':' {
		return nil, fmt.Errorf("%w: missing ':' prefix", ErrMalformedFrame)
	}
	if !bytes.HasSuffix(raw, []byte("\r\n")) {
		return nil, fmt.Errorf("%w: missing CR LF terminator", ErrMalformedFrame)
	}

	body := string(raw[1 : len(raw)-2])
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: odd hex digit count", ErrMalformedFrame)
	}

	data, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	// Device address, function code and checksum are the bare minimum.
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrMalformedFrame, len(data))
	}

	want := Checksum(data[:len(data)-1])
	got := data[len(data)-1]
	if want != got {
		return nil, fmt.Errorf("%w: computed %02X, frame carries %02X", ErrChecksumMismatch, want, got)
	}

	payload := make([]byte, len(data)-3)
	copy(payload, data[2:len(data)-1])

	return &Frame{
		DeviceAddress: data[0],
		Function:      data[1],
		Payload:       payload,
	}, nil
}
