// Command flashdisk reads, writes and erases SPI NOR flash parts through the
// flash engine, on real hardware through periph.io or against a simulated
// part.
//
// Usage:
//
//	flashdisk id   -spi /dev/spidev0.0
//	flashdisk info -part W25Q128JV -sim mem
//	flashdisk read -spi SPI0.0 -cs GPIO8 -o dump.bin
//	flashdisk write -profile parts.yaml -part MYPART -i fw.bin -offset 64KiB
//	flashdisk erase -sim image.bin -all
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&idCmd{}, "")
	subcommands.Register(&infoCmd{}, "")
	subcommands.Register(&readCmd{}, "")
	subcommands.Register(&writeCmd{}, "")
	subcommands.Register(&eraseCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
