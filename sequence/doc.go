// Package sequence implements the rig's command-sequence language and its
// execution semantics.
//
// A script is a comma- or whitespace-separated list of case-insensitive
// commands:
//
//	R<relay>:ON|OFF   switch a relay by ID (1-16) or registered alias
//	D<millis>         block the controlling goroutine for a delay
//	I                 reset all relays to OFF
//
// The whole script is parsed and validated up front into a closed set of
// Step variants; a bad command anywhere blocks the entire run. Execution
// happens on the calling goroutine, with delays sliced into bounded
// intervals so cooperative cancellation has bounded latency.
package sequence
