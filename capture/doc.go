// Package capture implements the per-port DUT console capture manager.
//
// The manager owns one capture worker per configured DUT serial port. Each
// worker exclusively owns its port and log file: it reads newline-delimited
// console output, optionally prefixes a timestamp, and appends to a
// time-stamped log file until stopped or the port errors. Workers are
// isolated: a failing port never takes down its siblings or the manager.
//
// Startup is partial-success: ports that fail to open are reported as
// *PortError values, the rest start normally. Stop is synchronized with
// Start and idempotent.
package capture
