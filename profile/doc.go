// Package profile describes flash parts and turns them into flash.Config
// values.
//
// Profiles come from YAML files, one document per part, or from the
// built-in table of common serial NOR parts keyed by JEDEC identification:
//
//	name: W25Q128JV
//	id: EF 40 18
//	check_id: true
//	size_kib: 16384
//	sector_kib: 4
//	block_kib: 64
//	page_size: 256
//	read:  {opcode: 0xEB, dummy_cycles: 6}
//	write: {opcode: 0x32}
//
// page_size, addr_size and block_kib may be left out.
package profile
