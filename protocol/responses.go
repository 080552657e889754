package protocol

import "fmt"

// DecodeID packs the first n bytes of data into a 32-bit identification value
// in the order they were received: byte 0 lands in bits 0-7, byte 1 in bits
// 8-15 and so on. No byte swap is applied.
//
// Returns IDNotRead when n <= 0, and an error when n exceeds MaxIDSize or the
// data holds fewer than n bytes.
func DecodeID(data []byte, n int) (uint32, error) {
	if n <= 0 {
		return IDNotRead, nil
	}
	if n > MaxIDSize {
		return IDNotRead, fmt.Errorf("identification length %d exceeds maximum %d bytes", n, MaxIDSize)
	}
	if len(data) < n {
		return IDNotRead, fmt.Errorf("invalid identification data: got %d bytes, expected %d", len(data), n)
	}

	var id uint32
	for i := 0; i < n; i++ {
		id |= uint32(data[i]) << (8 * uint(i))
	}

	return id, nil
}

// ParseJEDECID splits a value returned by DecodeID for a three-byte READID
// into its manufacturer, memory type and capacity codes.
func ParseJEDECID(id uint32) JEDECID {
	return JEDECID{
		Manufacturer: byte(id),
		MemoryType:   byte(id >> 8),
		Capacity:     byte(id >> 16),
	}
}

// Busy reports whether the write-in-progress bit is set in status.
func Busy(status byte) bool {
	return status&StatusWIP != 0
}

// WriteEnabled reports whether the write enable latch is set in status.
func WriteEnabled(status byte) bool {
	return status&StatusWEL != 0
}

// ManufacturerName returns the vendor for a JEDEC manufacturer code.
func ManufacturerName(code byte) string {
	switch code {
	case 0x01:
		return "Spansion/Cypress"
	case 0x1F:
		return "Adesto"
	case 0x20:
		return "Micron/ST"
	case 0x9D:
		return "ISSI"
	case 0xBF:
		return "Microchip/SST"
	case 0xC2:
		return "Macronix"
	case 0xC8:
		return "GigaDevice"
	case 0xEF:
		return "Winbond"
	default:
		return fmt.Sprintf("unknown manufacturer 0x%02X", code)
	}
}
