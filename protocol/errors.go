package protocol

import "fmt"

// AddressWidthError reports an address width the framing cannot encode, or a
// destination too short to hold it.
type AddressWidthError struct {
	// Width is the requested address width in bytes
	Width int

	// Have is the destination length when it was too short
	Have int

	// Short is set when the width was valid but the destination was not
	Short bool
}

func (e *AddressWidthError) Error() string {
	if e.Short {
		return fmt.Sprintf("address width %d does not fit in %d bytes", e.Width, e.Have)
	}
	return fmt.Sprintf("invalid address width %d: must be 1-%d bytes", e.Width, MaxAddrSize)
}

// IsAddressWidthError returns true if the error is an AddressWidthError.
func IsAddressWidthError(err error) bool {
	_, ok := err.(*AddressWidthError)
	return ok
}

// CommandName returns a human-readable name for an opcode.
func CommandName(opcode byte) string {
	switch opcode {
	case CmdWrite:
		return "PP"
	case CmdRead:
		return "READ"
	case CmdWriteDisable:
		return "WRDI"
	case CmdReadStatus:
		return "RDSR"
	case CmdWriteEnable:
		return "WREN"
	case CmdFastRead:
		return "FAST_READ"
	case CmdSectorErase:
		return "SE"
	case CmdQuadPageProgram:
		return "QPP"
	case CmdQuadOutputRead:
		return "QOR"
	case CmdReadID:
		return "RDID"
	case CmdBulkErase:
		return "CE"
	case CmdBlockErase:
		return "BE"
	case CmdQuadIORead:
		return "QIOR"
	default:
		return fmt.Sprintf("opcode 0x%02X", opcode)
	}
}
