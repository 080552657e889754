package profile

import (
	"sort"
	"strings"

	"github.com/moffa90/go-flashdisk/protocol"
)

var (
	quadIORead      = &protocol.Command{Opcode: protocol.CmdQuadIORead, DummyCycles: 6}
	quadOutputRead  = &protocol.Command{Opcode: protocol.CmdQuadOutputRead, DummyCycles: 8}
	quadPageProgram = &protocol.Command{Opcode: protocol.CmdQuadPageProgram}
)

// known is the built-in part table.
var known = []Profile{
	{Name: "W25Q16JV", ID: "EF 40 15", SizeKiB: 2 << 10, SectorKiB: 4, Read: quadIORead, Write: quadPageProgram},
	{Name: "W25Q32JV", ID: "EF 40 16", SizeKiB: 4 << 10, SectorKiB: 4, Read: quadIORead, Write: quadPageProgram},
	{Name: "W25Q64JV", ID: "EF 40 17", SizeKiB: 8 << 10, SectorKiB: 4, Read: quadIORead, Write: quadPageProgram},
	{Name: "W25Q128JV", ID: "EF 40 18", SizeKiB: 16 << 10, SectorKiB: 4, Read: quadIORead, Write: quadPageProgram},
	{Name: "W25Q256JV", ID: "EF 40 19", SizeKiB: 32 << 10, SectorKiB: 4, Read: quadIORead, Write: quadPageProgram},
	{Name: "MX25L3233F", ID: "C2 20 16", SizeKiB: 4 << 10, SectorKiB: 4, Read: quadIORead},
	{Name: "MX25R6435F", ID: "C2 28 17", SizeKiB: 8 << 10, SectorKiB: 4, Read: quadIORead},
	{Name: "GD25Q16C", ID: "C8 40 15", SizeKiB: 2 << 10, SectorKiB: 4, Read: quadOutputRead, Write: quadPageProgram},
	{Name: "GD25Q64C", ID: "C8 40 17", SizeKiB: 8 << 10, SectorKiB: 4, Read: quadOutputRead, Write: quadPageProgram},
	{Name: "IS25LP128", ID: "9D 60 18", SizeKiB: 16 << 10, SectorKiB: 4, Read: quadIORead, Write: quadPageProgram},
	{Name: "AT25SF041", ID: "1F 84 01", SizeKiB: 512, SectorKiB: 4},
}

func init() {
	for i := range known {
		known[i].CheckID = true
		known[i].setDefaults()
	}
}

// Known returns copies of the built-in profiles sorted by name.
func Known() []*Profile {
	out := make([]*Profile, len(known))
	for i := range known {
		p := known[i]
		out[i] = &p
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the built-in profile matching a JEDEC identification.
func Lookup(id protocol.JEDECID) (*Profile, bool) {
	for i := range known {
		if got, ok := known[i].JEDEC(); ok && got == id {
			p := known[i]
			return &p, true
		}
	}
	return nil, false
}

// ByName returns the built-in profile with the given part number, ignoring
// case.
func ByName(name string) (*Profile, bool) {
	for i := range known {
		if strings.EqualFold(known[i].Name, name) {
			p := known[i]
			return &p, true
		}
	}
	return nil, false
}

// IDReader reads a device identification. flash.Device implements it.
type IDReader interface {
	ReadID(n int) (uint32, error)
}

// Identify reads a three-byte JEDEC identification from r and looks it up in
// the built-in table. The decoded identification is returned even when no
// profile matches.
func Identify(r IDReader) (*Profile, protocol.JEDECID, error) {
	raw, err := r.ReadID(3)
	if err != nil {
		return nil, protocol.JEDECID{}, err
	}

	id := protocol.ParseJEDECID(raw)
	p, _ := Lookup(id)
	return p, id, nil
}
