package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"go.uber.org/multierr"
)

type infoCmd struct {
	commonFlags
}

func (*infoCmd) Name() string     { return "info" }
func (*infoCmd) Synopsis() string { return "show the part geometry and commands" }
func (*infoCmd) Usage() string {
	return "info [flags]\n\nPrints the profile the device was opened with.\n"
}

func (cmd *infoCmd) SetFlags(f *flag.FlagSet) {
	cmd.setCommonFlags(f)
}

func (cmd *infoCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := cmd.run(os.Stdout); err != nil {
		fail(cmd.Name(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *infoCmd) run(w io.Writer) (err error) {
	s, err := cmd.open(true)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	cfg := s.dev.Config()
	p := newPrinter(w)

	p.title(s.prof.Name)
	if s.prof.ID != "" {
		p.field("ID", s.prof.ID)
	}
	p.field("Capacity", humanize.IBytes(s.prof.SizeBytes()))
	p.field("Erase sector", humanize.IBytes(uint64(cfg.SectSize)*1024))
	p.field("Erase block", humanize.IBytes(uint64(cfg.BlkSize)*1024))
	p.field("Page", humanize.IBytes(uint64(s.prof.PageSize)))
	p.field("Address", fmt.Sprintf("%d bytes", cfg.AddrSize))
	p.field("Sectors", humanize.Comma(int64(s.dev.Sectors())))
	p.field("Read", cfg.RdCmd)
	p.field("Write", cfg.WrCmd)
	if s.chip != nil {
		p.note("simulated")
	}
	return nil
}
