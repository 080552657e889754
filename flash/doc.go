// Package flash drives serial NOR flash parts as sector-addressed block
// devices.
//
// # Overview
//
// A Device speaks the common SPI NOR command set: identification, status
// polling, write enable/disable, bulk, block and sector erase, page program
// and read. Commands go out over a bus.Transport in one of two ways, chosen
// once at Open:
//   - single-line SPI or I2C: opcode, big-endian address and data are
//     clocked as separate transfers, and partial transfers are resumed
//   - Quad-SPI: each command is one framed instruction built by the
//     transport's bus.QuadFramer
//
// Device implements diskio.SectorDevice for 512-byte sectors and embeds a
// diskio.Disk, so it also offers ReadAt, WriteAt, Flush and the optional
// sector cache.
//
// # Basic Usage
//
//	dev, err := flash.Open(flash.Config{
//	    SectSize:  4,    // KiB
//	    BlkSize:   64,   // KiB
//	    TotalSize: 4096, // KiB
//	    AddrSize:  3,
//	    DevID:     0x1640EF,
//	    DevIDSize: 3,
//	}, transport)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// NOR must be erased before it is programmed
//	if err := dev.EraseSector(0, 1); err != nil {
//	    log.Fatal(err)
//	}
//	if err := dev.SectWrite(0, buf); err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration Options
//
//	dev, err := flash.Open(cfg, transport,
//	    flash.WithLogger(logging.Sugar(zl)),
//	    flash.WithCache(make([]diskio.CacheDesc, 4)),
//	    flash.WithProgressCallback(progressFunc),
//	    flash.WithDelayFunc(time.Sleep),
//	)
//
// # Busy Waiting
//
// Erase and program wait for the part by polling the status register. Between
// polls the device calls Config.WaitFunc when set, so a caller can yield or
// sleep on an interrupt, and the delay function otherwise. Waits inside the
// erase and program sequences are best-effort: a wait that runs out is not an
// error, the sequence carries on.
//
// # Error Handling
//
// The package provides sentinel and structured errors:
//   - ErrNoTransport, ErrNoQuadFramer, ErrInitCallback, ErrShortBuffer
//   - ConfigError: an invalid Config field
//   - IDMismatchError: identification never matched
//   - TransferError: a data phase failed or stalled
package flash
