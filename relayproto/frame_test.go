package relayproto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"empty", nil, 0x00},
		{"single byte", []byte{0x01}, 0xFF},
		{"relay 0 on", []byte{0xFE, 0x05, 0x00, 0x00, 0xFF, 0x00}, 0xFE},
		{"reset all", []byte{0xFE, 0x0F, 0x00, 0x00, 0x00, 0x10, 0x02, 0x00, 0x00}, 0xE1},
		{"sum wraps past 0x100", []byte{0x80, 0x81}, 0xFF},
		{"sum exactly 0x100", []byte{0xFF, 0x01}, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.data))
		})
	}
}

func TestEncodeSetRelay(t *testing.T) {
	tests := []struct {
		index int
		on    bool
		want  string
	}{
		{0, true, ":FE050000FF00FE\r\n"},
		{0, false, ":FE050000000000FD\r\n"},
		{1, true, ":FE050001FF00FD\r\n"},
		{15, true, ":FE05000FFF00EF\r\n"},
		{15, false, ":FE05000F000000EE\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := EncodeSetRelay(tt.index, tt.on)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncodeSetRelay_OutOfRange(t *testing.T) {
	for _, index := range []int{-1, 16, 255} {
		_, err := EncodeSetRelay(index, true)
		require.ErrorIs(t, err, ErrCoilOutOfRange, "index %d", index)
		assert.ErrorContains(t, err, fmt.Sprintf("%d", index))
	}
}

func TestResetAllFrame(t *testing.T) {
	frame := ResetAllFrame()
	assert.Equal(t, ":FE0F00000010020000E1\r\n", string(frame))

	// Each call returns a fresh copy; mutating one must not leak into the next.
	frame[1] = 'X'
	assert.Equal(t, ":FE0F00000010020000E1\r\n", string(ResetAllFrame()))
}

func TestParseFrame_RoundTrip(t *testing.T) {
	for index := MinCoilIndex; index <= MaxCoilIndex; index++ {
		for _, on := range []bool{true, false} {
			raw, err := EncodeSetRelay(index, on)
			require.NoError(t, err)

			frame, err := ParseFrame(raw)
			require.NoError(t, err, "index=%d on=%v", index, on)

			assert.Equal(t, DeviceAddress, frame.DeviceAddress)
			assert.Equal(t, FuncWriteSingleCoil, frame.Function)
			require.Len(t, frame.Payload, 4)
			assert.Equal(t, byte(index), frame.Payload[1])
			if on {
				assert.Equal(t, byte(0xFF), frame.Payload[2])
			} else {
				assert.Equal(t, byte(0x00), frame.Payload[2])
			}
		}
	}
}

func TestParseFrame_ResetAll(t *testing.T) {
	frame, err := ParseFrame(ResetAllFrame())
	require.NoError(t, err)
	assert.Equal(t, DeviceAddress, frame.DeviceAddress)
	assert.Equal(t, FuncWriteMultipleCoils, frame.Function)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x10, 0x02, 0x00, 0x00}, frame.Payload)
}

func TestParseFrame_ChecksumMismatch(t *testing.T) {
	raw, err := EncodeSetRelay(3, true)
	require.NoError(t, err)

	// The checksum occupies the two hex digits before CR LF. Flipping any
	// bit of the checksum byte must be detected.
	valid, err := ParseFrame(raw)
	require.NoError(t, err)
	cs := valid.Checksum()

	for bit := 0; bit < 8; bit++ {
		corrupted := cs ^ (1 << bit)
		mutated := append([]byte(nil), raw...)
		copy(mutated[len(mutated)-4:len(mutated)-2], fmt.Sprintf("%02X", corrupted))

		_, err := ParseFrame(mutated)
		require.ErrorIs(t, err, ErrChecksumMismatch, "bit %d", bit)
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing colon", "FE050000FF00FE\r\n"},
		{"missing crlf", ":FE050000FF00FE"},
		{"bare lf", ":FE050000FF00FE\n"},
		{"odd digit count", ":FE050000FF00F\r\n"},
		{"non-hex characters", ":FE05ZZ00FF00FE\r\n"},
		{"too short", ":FE05\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tt.raw))
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}
