package profile

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moffa90/go-flashdisk/flash"
	"github.com/moffa90/go-flashdisk/protocol"
)

// Profile describes a flash part: its identification, geometry and the
// commands used to move data on Quad-SPI.
type Profile struct {
	// Name is the part number, e.g. "W25Q128JV"
	Name string `yaml:"name"`

	// ID is the READID response as hex bytes in bus order, e.g. "EF 40 18"
	ID string `yaml:"id"`

	// CheckID makes Open verify ID before using the part
	CheckID bool `yaml:"check_id"`

	// SizeKiB is the capacity
	SizeKiB uint64 `yaml:"size_kib"`

	// SectorKiB is the smallest erase unit
	SectorKiB uint32 `yaml:"sector_kib"`

	// BlockKiB is the large erase unit
	BlockKiB uint32 `yaml:"block_kib"`

	// PageSize is the page program size in bytes (default 256)
	PageSize int `yaml:"page_size"`

	// AddrSize is the address width in bytes (default 3, or 4 above 16 MiB)
	AddrSize int `yaml:"addr_size"`

	// Read and Write are the Quad-SPI data commands (default READ and
	// PAGE PROGRAM)
	Read  *protocol.Command `yaml:"read"`
	Write *protocol.Command `yaml:"write"`
}

// IDBytes returns the identification bytes, nil when ID is empty.
func (p *Profile) IDBytes() ([]byte, error) {
	s := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(p.ID)
	if s == "" {
		return nil, nil
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(b) > protocol.MaxIDSize {
		return nil, fmt.Errorf("%d bytes, maximum is %d", len(b), protocol.MaxIDSize)
	}
	return b, nil
}

// IDValue returns the identification packed the way flash.Device.ReadID
// returns it, and its length in bytes.
func (p *Profile) IDValue() (uint32, int) {
	b, err := p.IDBytes()
	if err != nil || len(b) == 0 {
		return protocol.IDNotRead, 0
	}

	id, err := protocol.DecodeID(b, len(b))
	if err != nil {
		return protocol.IDNotRead, 0
	}
	return id, len(b)
}

// JEDEC returns the decoded JEDEC identification of a three-byte ID.
func (p *Profile) JEDEC() (protocol.JEDECID, bool) {
	id, n := p.IDValue()
	if n != 3 {
		return protocol.JEDECID{}, false
	}
	return protocol.ParseJEDECID(id), true
}

// SizeBytes returns the capacity in bytes.
func (p *Profile) SizeBytes() uint64 {
	return p.SizeKiB * 1024
}

// Config returns the flash configuration for the part on device select
// devNo. The profile must have passed validation.
func (p *Profile) Config(devNo int) flash.Config {
	cfg := flash.Config{
		DevNo:     devNo,
		SectSize:  p.SectorKiB,
		BlkSize:   p.BlockKiB,
		WriteSize: p.PageSize,
		TotalSize: p.SizeKiB,
		AddrSize:  p.AddrSize,
		RdCmd:     protocol.DefaultReadCommand,
		WrCmd:     protocol.DefaultWriteCommand,
	}
	if p.Read != nil {
		cfg.RdCmd = *p.Read
	}
	if p.Write != nil {
		cfg.WrCmd = *p.Write
	}
	if p.CheckID {
		cfg.DevID, cfg.DevIDSize = p.IDValue()
	}
	return cfg
}

// String returns the part name with its identification.
func (p *Profile) String() string {
	if p.ID == "" {
		return p.Name
	}
	return fmt.Sprintf("%s [%s]", p.Name, p.ID)
}

// setDefaults fills the optional fields.
func (p *Profile) setDefaults() {
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.AddrSize == 0 {
		p.AddrSize = 3
		if p.SizeBytes() > 1<<24 {
			p.AddrSize = 4
		}
	}
	if p.BlockKiB == 0 {
		p.BlockKiB = DefaultBlockKiB
	}
}
