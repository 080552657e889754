package protocol

import "fmt"

// Command describes a data-phase command: the opcode sent on the bus and the
// number of dummy clock cycles the device needs between the address and data
// phases.
type Command struct {
	// Opcode is the command byte
	Opcode byte `yaml:"opcode"`

	// DummyCycles is the number of dummy clocks before the data phase
	DummyCycles int `yaml:"dummy_cycles"`
}

// String returns a short human-readable form such as "0xEB/6".
func (c Command) String() string {
	return fmt.Sprintf("0x%02X/%d", c.Opcode, c.DummyCycles)
}

// Default data-phase commands used when a part description leaves them empty.
var (
	// DefaultReadCommand is the plain READ opcode with no dummy cycles
	DefaultReadCommand = Command{Opcode: CmdRead}

	// DefaultWriteCommand is the single-line page program opcode
	DefaultWriteCommand = Command{Opcode: CmdWrite}
)

// JEDECID is a decoded three-byte JEDEC identification.
type JEDECID struct {
	// Manufacturer is the JEDEC manufacturer code
	Manufacturer byte

	// MemoryType is the vendor memory type byte
	MemoryType byte

	// Capacity is the vendor capacity code, usually log2 of the size in bytes
	Capacity byte
}

// String formats the identification as "MM TT CC".
func (id JEDECID) String() string {
	return fmt.Sprintf("%02X %02X %02X", id.Manufacturer, id.MemoryType, id.Capacity)
}

// SizeBytes returns the capacity implied by the capacity code, or 0 when the
// code is outside the range used by serial NOR parts.
func (id JEDECID) SizeBytes() uint64 {
	if id.Capacity < 0x10 || id.Capacity > 0x22 {
		return 0
	}
	return 1 << id.Capacity
}
