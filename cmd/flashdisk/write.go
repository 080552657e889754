package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"go.uber.org/multierr"

	"github.com/moffa90/go-flashdisk/diskio"
	"github.com/moffa90/go-flashdisk/flash"
)

type writeCmd struct {
	commonFlags
	in      string
	offset  string
	noErase bool
	verify  bool
}

func (*writeCmd) Name() string     { return "write" }
func (*writeCmd) Synopsis() string { return "program a file into flash" }
func (*writeCmd) Usage() string {
	return "write [flags] -i file\n\nErases the covered sectors, keeping the rest of the last one, and\nprograms the file at -offset.\n"
}

func (cmd *writeCmd) SetFlags(f *flag.FlagSet) {
	cmd.setCommonFlags(f)
	f.StringVar(&cmd.in, "i", "", "input file")
	f.StringVar(&cmd.offset, "offset", "0", "start offset, aligned to the erase sector unless -no-erase")
	f.BoolVar(&cmd.noErase, "no-erase", false, "program without erasing first")
	f.BoolVar(&cmd.verify, "verify", true, "read back and compare")
}

func (cmd *writeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if cmd.in == "" {
		fail(cmd.Name(), errors.New("-i is required"))
		return subcommands.ExitUsageError
	}
	if err := cmd.run(os.Stdout); err != nil {
		fail(cmd.Name(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *writeCmd) run(w io.Writer) (err error) {
	data, err := os.ReadFile(cmd.in)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("input file is empty")
	}

	s, err := cmd.open(true)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	off, n, err := span(cmd.offset, fmt.Sprint(len(data)), s.dev.Size())
	if err != nil {
		return err
	}

	p := newPrinter(w)

	if !cmd.noErase {
		cfg := s.dev.Config()
		first, count, err := units(off, n, cfg.SectSize)
		if err != nil {
			return err
		}

		// keep the bytes of the last sector that the file does not cover
		end := off + n
		unitEnd := (int64(first) + int64(count)) * int64(cfg.SectSize) * 1024
		if unitEnd > end {
			tail := make([]byte, unitEnd-end)
			if _, err := s.dev.ReadAt(tail, end); err != nil {
				return fmt.Errorf("save tail: %w", err)
			}
			data = append(data, tail...)
		}

		if err := s.dev.EraseSector(first, count); err != nil {
			return err
		}
		p.note("erased %d sectors from 0x%X", count, off)
	}

	if _, err := s.dev.WriteAt(data, off); err != nil {
		return err
	}
	if err := s.dev.Flush(); err != nil {
		return err
	}

	if cmd.verify {
		if err := verify(s.dev, data, off); err != nil {
			return err
		}
	}

	p.ok("wrote %s at 0x%X", humanize.IBytes(uint64(n)), off)
	return nil
}

// verify reads data back from the part at off. Cached copies of the range
// are dropped first so the comparison reaches the flash.
func verify(dev *flash.Device, data []byte, off int64) error {
	first := uint32(off / diskio.SectorSize)
	last := uint32((off + int64(len(data)) + diskio.SectorSize - 1) / diskio.SectorSize)
	dev.Invalidate(first, last-first)

	got := make([]byte, len(data))
	if _, err := dev.ReadAt(got, off); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !bytes.Equal(got, data) {
		return errors.New("verify: contents differ")
	}
	return nil
}
