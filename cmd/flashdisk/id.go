package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"go.uber.org/multierr"

	"github.com/moffa90/go-flashdisk/profile"
	"github.com/moffa90/go-flashdisk/protocol"
)

type idCmd struct {
	commonFlags
}

func (*idCmd) Name() string     { return "id" }
func (*idCmd) Synopsis() string { return "read the JEDEC identification" }
func (*idCmd) Usage() string {
	return "id [flags]\n\nReads the three-byte JEDEC ID and names the part when it is known.\n"
}

func (cmd *idCmd) SetFlags(f *flag.FlagSet) {
	cmd.setCommonFlags(f)
}

func (cmd *idCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := cmd.run(os.Stdout); err != nil {
		fail(cmd.Name(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *idCmd) run(w io.Writer) (err error) {
	s, err := cmd.open(false)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	_, id, err := profile.Identify(s.dev)
	if err != nil {
		return err
	}

	p := newPrinter(w)
	p.field("JEDEC ID", id)
	p.field("Manufacturer", protocol.ManufacturerName(id.Manufacturer))
	if size := id.SizeBytes(); size > 0 {
		p.field("Capacity", humanize.IBytes(size))
	}
	if s.prof != nil {
		p.field("Part", s.prof.Name)
	} else {
		p.note("part not in the built-in table")
	}
	return nil
}
