package rig

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorlab/go-hwrig/capture"
	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/relayproto"
	"github.com/anchorlab/go-hwrig/sequence"
	"github.com/anchorlab/go-hwrig/serialport"
)

// memPort is an in-memory serialport.Port: writes are recorded, reads
// serve pushed chunks or behave like timed-out polls.
type memPort struct {
	mu         sync.Mutex
	writes     [][]byte
	reads      [][]byte
	closeCount int
}

func (p *memPort) push(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reads = append(p.reads, []byte(data))
}

func (p *memPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.reads) > 0 {
		n := copy(buf, p.reads[0])
		p.reads = p.reads[1:]
		p.mu.Unlock()

		return n, nil
	}
	p.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	return 0, nil
}

func (p *memPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writes = append(p.writes, append([]byte(nil), data...))

	return len(data), nil
}

func (p *memPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeCount++

	return nil
}

func (p *memPort) SetReadTimeout(time.Duration) error { return nil }

func (p *memPort) recordedWrites() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]byte(nil), p.writes...)
}

func (p *memPort) closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closeCount > 0
}

// rigOpener serves memPorts by device path and counts open calls.
type rigOpener struct {
	mu    sync.Mutex
	ports map[string]*memPort
	opens int
}

func newRigOpener(paths ...string) *rigOpener {
	o := &rigOpener{ports: make(map[string]*memPort)}
	for _, path := range paths {
		o.ports[path] = &memPort{}
	}

	return o
}

func (o *rigOpener) open(name string, _ serialport.Mode) (serialport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens++
	port, ok := o.ports[name]
	if !ok {
		return nil, errors.New("no such device")
	}

	return port, nil
}

func (o *rigOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.opens
}

func testConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		RelayPort: "/dev/ttyUSB0",
		RelayAliases: map[string]int{
			"dut1_power": 2,
		},
		DUTPorts: []capture.PortSpec{{Port: "/dev/ttyUSB1", Name: "dut1"}},
		LogDir:   t.TempDir(),
		Script:   "I,Rdut1_power:ON,D10,Rdut1_power:OFF",
	}
}

func TestRunner_ScriptedRun(t *testing.T) {
	opener := newRigOpener("/dev/ttyUSB0", "/dev/ttyUSB1")
	runner, err := New(testConfig(t), WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	opener.ports["/dev/ttyUSB1"].push("DUT alive\n")

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.RunID)
	assert.NoError(t, report.CaptureErr)

	// The relay port saw exactly reset, alias relay ON, alias relay OFF,
	// each a complete, valid frame.
	writes := opener.ports["/dev/ttyUSB0"].recordedWrites()
	require.Len(t, writes, 3)
	assert.Equal(t, ":FE0F00000010020000E1\r\n", string(writes[0]))

	onFrame, err := relayproto.ParseFrame(writes[1])
	require.NoError(t, err)
	assert.Equal(t, byte(1), onFrame.Payload[1], "alias dut1_power must address coil 1")
	assert.Equal(t, byte(0xFF), onFrame.Payload[2])

	offFrame, err := relayproto.ParseFrame(writes[2])
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), offFrame.Payload[2])

	// Capture ran alongside the sequence.
	require.Len(t, report.LogPaths, 1)
	data, err := os.ReadFile(report.LogPaths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "DUT alive")

	// Teardown released every port.
	assert.True(t, opener.ports["/dev/ttyUSB0"].closed())
	assert.True(t, opener.ports["/dev/ttyUSB1"].closed())
}

func TestRunner_ParseFailureBeforeHardware(t *testing.T) {
	cfg := testConfig(t)
	cfg.Script = "R1:ON,Dabc"

	opener := newRigOpener("/dev/ttyUSB0", "/dev/ttyUSB1")
	runner, err := New(cfg, WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, sequence.ErrMalformedCommand)
	assert.Zero(t, opener.openCount(), "a malformed script must fail before any port is opened")
}

func TestRunner_UnknownAliasFailsParse(t *testing.T) {
	cfg := testConfig(t)
	cfg.Script = "Rdut9_power:ON"

	opener := newRigOpener("/dev/ttyUSB0", "/dev/ttyUSB1")
	runner, err := New(cfg, WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, sequence.ErrUnknownRelayToken)
	assert.Zero(t, opener.openCount())
}

func TestRunner_ConfigValidation(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNothingToRun)

	_, err = New(Config{Script: "R1:ON"})
	require.ErrorIs(t, err, ErrNoRelayPort)
}

func TestRunner_CaptureFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.DUTPorts = append(cfg.DUTPorts, capture.PortSpec{Port: "/dev/ttyUSB9", Name: "broken"})

	opener := newRigOpener("/dev/ttyUSB0", "/dev/ttyUSB1")
	runner, err := New(cfg, WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err, "a capture-port failure must not abort the run")

	require.Error(t, report.CaptureErr)
	var perr *capture.PortError
	require.ErrorAs(t, report.CaptureErr, &perr)
	assert.Equal(t, "broken", perr.Name)
	assert.Len(t, report.LogPaths, 1)
}

func TestRunner_RelayConnectFailure(t *testing.T) {
	opener := newRigOpener("/dev/ttyUSB1") // relay port missing
	runner, err := New(testConfig(t), WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.False(t, opener.ports["/dev/ttyUSB1"].closed(), "capture must not start when the relay connect fails")
}

func TestRunner_CancelDuringSequence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Script = "R1:ON,D60000,R1:OFF"

	opener := newRigOpener("/dev/ttyUSB0", "/dev/ttyUSB1")
	runner, err := New(cfg, WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = runner.Run(ctx)
	require.ErrorIs(t, err, sequence.ErrCanceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	// Teardown still ran: the relay stays at its last commanded state but
	// every port is released.
	writes := opener.ports["/dev/ttyUSB0"].recordedWrites()
	require.Len(t, writes, 1, "no reset frame may be sent on cancellation")
	assert.True(t, opener.ports["/dev/ttyUSB0"].closed())
	assert.True(t, opener.ports["/dev/ttyUSB1"].closed())
}

func TestRunner_CaptureOnlyRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.RelayPort = ""
	cfg.RelayAliases = nil
	cfg.Script = ""

	opener := newRigOpener("/dev/ttyUSB1")
	runner, err := New(cfg, WithOpener(opener.open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	opener.ports["/dev/ttyUSB1"].push("console output\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.LogPaths, 1)

	data, err := os.ReadFile(report.LogPaths[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "console output"))
}

func TestRunner_CaptureOnlyRunWithNoPortsStarted(t *testing.T) {
	cfg := testConfig(t)
	cfg.RelayPort = ""
	cfg.RelayAliases = nil
	cfg.Script = ""
	cfg.DUTPorts = []capture.PortSpec{{Port: "/dev/ttyUSB9", Name: "broken"}}

	runner, err := New(cfg, WithOpener(newRigOpener().open), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)

	var perr *capture.PortError
	assert.ErrorAs(t, err, &perr)
}
