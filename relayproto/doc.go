// Package relayproto implements the wire protocol of the 16-channel relay
// board: ASCII hex frames in the Intel-hex style, LRC checksummed,
// carrying Modbus-flavoured coil writes.
//
// A frame on the wire is:
//
//	':' <device address> <function code> <payload...> <checksum> CR LF
//
// where every byte is rendered as two uppercase hex digits and the
// checksum is the LRC (two's complement of the byte sum) of everything
// between the colon and the checksum itself.
//
// The package is pure encode/decode; it performs no I/O. The relay
// session in package relay owns the serial link and feeds frames built
// here to the board.
package relayproto
