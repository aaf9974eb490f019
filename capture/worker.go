package capture

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anchorlab/go-hwrig/logger"
	"github.com/anchorlab/go-hwrig/serialport"
)

const (
	lineTimestampLayout = "2006-01-02 15:04:05.000"

	readBufferSize = 4096
)

// worker is one capture session: it exclusively owns one DUT port and one
// log file, and runs on its own goroutine under the manager's task manager.
type worker struct {
	name       string
	portName   string
	logPath    string
	timestamps bool
	logger     logger.Logger

	port    serialport.Port
	readBuf []byte

	// fileMu guards the log file and the pending tail against the
	// force-close path in Manager.Stop racing the worker goroutine.
	fileMu  sync.Mutex
	file    *os.File
	pending []byte // bytes of the current, not yet newline-terminated line

	closeOnce sync.Once
}

// newWorker creates the log file for an already-opened port.
func newWorker(logDir, prefix, name, portName string, port serialport.Port, timestamps bool, l logger.Logger) (*worker, error) {
	filename := fmt.Sprintf("%s%s_%s.log", prefix, name, time.Now().Format(fileTimestampLayout))
	logPath := filepath.Join(logDir, filename)

	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	return &worker{
		name:       name,
		portName:   portName,
		logPath:    logPath,
		timestamps: timestamps,
		logger:     l,
		port:       port,
		readBuf:    make([]byte, readBufferSize),
		file:       file,
	}, nil
}

// pump performs one read-split-write iteration. Returning false stops the
// worker's loop; only this worker is affected.
func (w *worker) pump() bool {
	n, err := w.port.Read(w.readBuf)
	if err != nil {
		// A port-level read failure ends this worker only. The marker line
		// makes the failure visible in the capture itself.
		w.writeLine(fmt.Sprintf("[SERIAL ERROR: %v]", err))
		w.logger.Error("capture read failed", "port", w.portName, "error", err)
		return false
	}
	if n == 0 {
		// Read timeout: nothing arrived within the poll interval.
		return true
	}

	w.fileMu.Lock()
	w.pending = append(w.pending, w.readBuf[:n]...)
	var lines []string
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, decodeLine(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	w.fileMu.Unlock()

	for _, line := range lines {
		w.writeLine(line)
	}

	return true
}

// writeLine appends one line to the log file, with the optional timestamp
// prefix. Lines are written immediately, never retained.
func (w *worker) writeLine(line string) {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()

	if w.file == nil {
		return
	}

	if w.timestamps {
		line = time.Now().Format("["+lineTimestampLayout+"] ") + line
	}
	if _, err := w.file.WriteString(line + "\n"); err != nil {
		w.logger.Error("capture write failed", "log", w.logPath, "error", err)
	}
}

// close flushes the partial tail line and releases the worker's port and
// file. It runs either as the worker goroutine's cleanup or from the
// manager's force-close path; the sync.Once keeps the two from colliding.
func (w *worker) close() {
	w.closeOnce.Do(func() {
		w.fileMu.Lock()
		tail := w.pending
		w.pending = nil
		w.fileMu.Unlock()
		if len(tail) > 0 {
			w.writeLine(decodeLine(tail))
		}

		w.fileMu.Lock()
		if w.file != nil {
			if err := w.file.Close(); err != nil {
				w.logger.Error("close log file failed", "log", w.logPath, "error", err)
			}
			w.file = nil
		}
		w.fileMu.Unlock()

		if err := w.port.Close(); err != nil {
			w.logger.Error("close capture port failed", "port", w.portName, "error", err)
		}

		w.logger.Info("capture stopped", "port", w.portName, "log", w.logPath)
	})
}

// decodeLine turns a raw console line into loggable text: trailing CR and
// whitespace stripped, undecodable bytes replaced instead of crashing the
// worker.
func decodeLine(raw []byte) string {
	line := strings.TrimRight(string(raw), "\r\n\t ")
	return strings.ToValidUTF8(line, "�")
}
