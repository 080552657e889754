// Package protocol implements the serial NOR flash command set.
//
// This package provides opcode constants, status register bits and helpers
// to build command headers and decode responses. It does not talk to a bus.
//
// # Command Framing
//
// On a standard SPI bus every command starts with an opcode byte, optionally
// followed by an address sent most significant byte first:
//
//	Command:  [OPCODE][ADDR_MSB]...[ADDR_LSB][DATA...]
//
// Where the address is 1 to 4 bytes wide (3 bytes for parts up to 16 MiB,
// 4 bytes beyond that). Quad-SPI controllers frame opcode, address, dummy
// cycles and data length in one transaction, so they only use the constants.
//
// # Command Builders
//
//	hdr, err := protocol.BuildCommand(protocol.CmdRead, 0x123456, 3)
//	// hdr == []byte{0x03, 0x12, 0x34, 0x56}
//
// # Response Decoding
//
//	id, err := protocol.DecodeID(rx, 3)
//	jedec := protocol.ParseJEDECID(id)
//	if protocol.Busy(status) {
//	    // program or erase still running
//	}
package protocol
