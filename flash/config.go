package flash

import (
	"math"

	"github.com/moffa90/go-flashdisk/diskio"
	"github.com/moffa90/go-flashdisk/protocol"
)

// Config describes the flash part and how it is wired. Sizes marked KiB are
// in units of 1024 bytes.
type Config struct {
	// DevNo selects the device on the transport (chip select index or
	// I2C address)
	DevNo int

	// SectSize is the SECTOR_ERASE granularity in KiB
	SectSize uint32

	// BlkSize is the BLOCK_ERASE granularity in KiB
	BlkSize uint32

	// WriteSize is the page program granularity in bytes; 0 means one
	// block-device sector
	WriteSize int

	// TotalSize is the capacity in KiB; 0 disables bounds checks
	TotalSize uint64

	// AddrSize is the address width in bytes, 1 to 4
	AddrSize int

	// RdCmd and WrCmd are the data-phase commands used on Quad-SPI
	RdCmd protocol.Command
	WrCmd protocol.Command

	// DevID is compared with the identification read at Open when
	// DevIDSize is non-zero
	DevID     uint32
	DevIDSize int

	// InitFunc runs before anything else is sent to the part (optional)
	InitFunc InitFunc

	// WaitFunc runs between busy polls instead of the delay (optional)
	WaitFunc WaitFunc
}

func (c *Config) validate() error {
	if c.AddrSize < 1 || c.AddrSize > protocol.MaxAddrSize {
		return &ConfigError{Field: "AddrSize", Value: c.AddrSize, Reason: "must be 1-4 bytes"}
	}
	if c.SectSize == 0 {
		return &ConfigError{Field: "SectSize", Value: c.SectSize, Reason: "must not be zero"}
	}
	if c.BlkSize == 0 {
		return &ConfigError{Field: "BlkSize", Value: c.BlkSize, Reason: "must not be zero"}
	}
	if c.WriteSize < 0 {
		return &ConfigError{Field: "WriteSize", Value: c.WriteSize, Reason: "must not be negative"}
	}
	if c.DevIDSize < 0 || c.DevIDSize > protocol.MaxIDSize {
		return &ConfigError{Field: "DevIDSize", Value: c.DevIDSize, Reason: "must be 0-4 bytes"}
	}
	if c.TotalSize > math.MaxUint32/2 {
		return &ConfigError{Field: "TotalSize", Value: c.TotalSize, Reason: "sector count does not fit 32 bits"}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.WriteSize == 0 {
		c.WriteSize = diskio.SectorSize
	}
	if c.RdCmd.Opcode == 0 {
		c.RdCmd = protocol.DefaultReadCommand
	}
	if c.WrCmd.Opcode == 0 {
		c.WrCmd = protocol.DefaultWriteCommand
	}
}

// sectors returns the capacity in block-device sectors.
func (c *Config) sectors() uint32 {
	return uint32(c.TotalSize * 1024 / diskio.SectorSize)
}
