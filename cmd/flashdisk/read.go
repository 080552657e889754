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

type readCmd struct {
	commonFlags
	out    string
	offset string
	length string
}

func (*readCmd) Name() string     { return "read" }
func (*readCmd) Synopsis() string { return "read flash contents to a file" }
func (*readCmd) Usage() string {
	return "read [flags] -o file\n\nReads -length bytes at -offset (default: the whole part).\n"
}

func (cmd *readCmd) SetFlags(f *flag.FlagSet) {
	cmd.setCommonFlags(f)
	f.StringVar(&cmd.out, "o", "-", "output file, - for stdout")
	f.StringVar(&cmd.offset, "offset", "0", "start offset, e.g. 0x1000 or 64KiB")
	f.StringVar(&cmd.length, "length", "", "byte count (default: to the end of the part)")
}

func (cmd *readCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := cmd.run(os.Stderr); err != nil {
		fail(cmd.Name(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *readCmd) run(status io.Writer) (err error) {
	s, err := cmd.open(true)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	off, n, err := span(cmd.offset, cmd.length, s.dev.Size())
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if cmd.out != "-" {
		f, cerr := os.Create(cmd.out)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	copied, err := io.Copy(w, io.NewSectionReader(s.dev, off, n))
	if err != nil {
		return fmt.Errorf("read at 0x%X: %w", off+copied, err)
	}

	newPrinter(status).ok("read %s from 0x%X", humanize.IBytes(uint64(copied)), off)
	return nil
}
