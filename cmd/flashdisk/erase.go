package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"go.uber.org/multierr"

	"github.com/moffa90/go-flashdisk/flash"
)

type eraseCmd struct {
	commonFlags
	all    bool
	block  bool
	offset string
	length string
	quiet  bool
}

func (*eraseCmd) Name() string     { return "erase" }
func (*eraseCmd) Synopsis() string { return "erase sectors, blocks or the whole part" }
func (*eraseCmd) Usage() string {
	return "erase [flags] (-all | -offset N -length N)\n\nErases the sectors (or blocks with -block) covering the range.\n"
}

func (cmd *eraseCmd) SetFlags(f *flag.FlagSet) {
	cmd.setCommonFlags(f)
	f.BoolVar(&cmd.all, "all", false, "erase the whole part")
	f.BoolVar(&cmd.block, "block", false, "erase in blocks instead of sectors")
	f.StringVar(&cmd.offset, "offset", "0", "start offset, aligned to the erase unit")
	f.StringVar(&cmd.length, "length", "", "byte count, rounded up to the erase unit")
	f.BoolVar(&cmd.quiet, "q", false, "no progress output")
}

func (cmd *eraseCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !cmd.all && cmd.length == "" {
		fail(cmd.Name(), errors.New("pass -all or -length"))
		return subcommands.ExitUsageError
	}
	if err := cmd.run(os.Stdout); err != nil {
		fail(cmd.Name(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *eraseCmd) run(w io.Writer) (err error) {
	p := newPrinter(w)

	var opts []flash.Option
	if !cmd.quiet {
		opts = append(opts, flash.WithProgressCallback(func(pr flash.Progress) {
			if pr.Phase == flash.PhaseComplete {
				p.note("%d/%d done in %s", pr.Done, pr.Total, pr.ElapsedTime.Round(time.Millisecond))
				return
			}
			p.note("[%5.1f%%] 0x%06X", pr.Percentage, pr.Addr)
		}))
	}

	s, err := cmd.open(true, opts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	if cmd.all {
		if err := s.dev.Erase(); err != nil {
			return err
		}
		p.ok("erased %s", humanize.IBytes(uint64(s.dev.Size())))
		return nil
	}

	off, n, err := span(cmd.offset, cmd.length, s.dev.Size())
	if err != nil {
		return err
	}

	cfg := s.dev.Config()
	unitKiB, erase := cfg.SectSize, s.dev.EraseSector
	if cmd.block {
		unitKiB, erase = cfg.BlkSize, s.dev.EraseBlock
	}

	first, count, err := units(off, n, unitKiB)
	if err != nil {
		return err
	}
	bytes := int64(count) * int64(unitKiB) * 1024
	if off+bytes > s.dev.Size() {
		return fmt.Errorf("erase would run past the end of the part at 0x%X", off+bytes)
	}
	if err := erase(first, count); err != nil {
		return err
	}

	p.ok("erased %s from 0x%X", humanize.IBytes(uint64(bytes)), off)
	return nil
}
