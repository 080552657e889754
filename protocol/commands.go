package protocol

// PutAddress writes the low addrSize bytes of addr into dst, most significant
// byte first, and returns the number of bytes written.
//
// The on-wire order is the native little-endian representation of the
// address reversed, so 0x123456 with a 3-byte width becomes 12 34 56. Widths
// narrower than the value truncate the high bytes.
//
// Returns an AddressWidthError when addrSize is outside 1..MaxAddrSize or dst
// is too short.
func PutAddress(dst []byte, addr uint32, addrSize int) (int, error) {
	if addrSize < 1 || addrSize > MaxAddrSize {
		return 0, &AddressWidthError{Width: addrSize}
	}
	if len(dst) < addrSize {
		return 0, &AddressWidthError{Width: addrSize, Have: len(dst), Short: true}
	}

	for i := 1; i <= addrSize; i++ {
		dst[i-1] = byte(addr >> (8 * uint(addrSize-i)))
	}

	return addrSize, nil
}

// BuildCommand constructs the command header for an addressed operation.
//
// Frame structure:
//
//	[OPCODE][ADDR_MSB]...[ADDR_LSB]
//
// The returned slice is addrSize+1 bytes long.
func BuildCommand(opcode byte, addr uint32, addrSize int) ([]byte, error) {
	frame := make([]byte, 1+addrSize)
	frame[0] = opcode

	if _, err := PutAddress(frame[1:], addr, addrSize); err != nil {
		return nil, err
	}

	return frame, nil
}

// AppendCommand is like BuildCommand but appends to buf, which lets hot paths
// reuse a fixed header array.
func AppendCommand(buf []byte, opcode byte, addr uint32, addrSize int) ([]byte, error) {
	var hdr [MaxHeaderSize]byte
	hdr[0] = opcode

	n, err := PutAddress(hdr[1:], addr, addrSize)
	if err != nil {
		return buf, err
	}

	return append(buf, hdr[:1+n]...), nil
}

// HeaderSize returns the length of the command header for opcode at the given
// address width, or 1 when the opcode carries no address.
func HeaderSize(opcode byte, addrSize int) int {
	if HasAddress(opcode) {
		return 1 + addrSize
	}
	return 1
}

// HasAddress reports whether opcode is followed by an address phase.
func HasAddress(opcode byte) bool {
	switch opcode {
	case CmdWrite, CmdRead, CmdFastRead, CmdSectorErase, CmdBlockErase,
		CmdQuadPageProgram, CmdQuadOutputRead, CmdQuadIORead:
		return true
	default:
		return false
	}
}
