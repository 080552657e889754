package protocol

// Command opcodes shared by the common serial NOR flash families
// (W25Qxx, GD25Qxx, MX25Lxx, N25Qxx, IS25LP).
const (
	// CmdWrite programs up to one page starting at a 3/4-byte address
	CmdWrite = 0x02

	// CmdRead reads data at a 3/4-byte address without dummy cycles
	CmdRead = 0x03

	// CmdWriteDisable clears the write enable latch
	CmdWriteDisable = 0x04

	// CmdReadStatus reads the status register
	CmdReadStatus = 0x05

	// CmdWriteEnable sets the write enable latch
	CmdWriteEnable = 0x06

	// CmdFastRead reads data after 8 dummy cycles
	CmdFastRead = 0x0B

	// CmdSectorErase erases one sector (typically 4 KiB)
	CmdSectorErase = 0x20

	// CmdQuadPageProgram programs a page over four data lines
	CmdQuadPageProgram = 0x32

	// CmdQuadOutputRead reads over four data lines (1-1-4)
	CmdQuadOutputRead = 0x6B

	// CmdReadID reads the JEDEC manufacturer and device identification
	CmdReadID = 0x9F

	// CmdBulkErase erases the whole device
	CmdBulkErase = 0xC7

	// CmdBlockErase erases one block (typically 64 KiB)
	CmdBlockErase = 0xD8

	// CmdQuadIORead reads with address and data over four lines (1-4-4)
	CmdQuadIORead = 0xEB
)

// Status register bits.
const (
	// StatusWIP is set while a program or erase operation is executing
	StatusWIP = 0x01

	// StatusWEL is the write enable latch
	StatusWEL = 0x02
)

// IDNotRead is returned by identification reads that were not performed.
const IDNotRead = 0xFFFFFFFF

// MaxAddrSize is the widest address supported by the framing (4-byte mode).
const MaxAddrSize = 4

// MaxIDSize is the largest identification value that fits the 32-bit result.
const MaxIDSize = 4

// MaxHeaderSize is the opcode byte plus the widest address.
const MaxHeaderSize = 1 + MaxAddrSize
