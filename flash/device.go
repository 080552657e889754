package flash

import (
	"fmt"
	"math"
	"time"

	"github.com/moffa90/go-flashdisk/bus"
	"github.com/moffa90/go-flashdisk/diskio"
	"github.com/moffa90/go-flashdisk/protocol"
)

const (
	// WaitForever as a WaitReady timeout polls until the part is idle.
	WaitForever uint32 = math.MaxUint32

	// IDRetries is the number of identification reads after the first one.
	IDRetries = 5

	// readyTimeout bounds the wait before a sector read.
	readyTimeout = 100000

	// unitPollDelay is the poll interval between erase units.
	unitPollDelay = 100 * time.Microsecond

	// longPollDelay is the poll interval while an erase completes.
	longPollDelay = time.Second
)

// Device is a serial NOR flash driven over a bus.Transport. It implements
// diskio.SectorDevice and embeds the diskio.Disk built on top of it, so the
// part can be used sector by sector, through io.ReaderAt/io.WriterAt, or
// through the optional cache.
//
// SectRead and SectWrite go straight to the part and bypass the cache. After
// a raw SectWrite to a sector the cache may hold, call Invalidate for that
// sector; otherwise cached reads return the old bytes and a dirty slot
// overwrites the raw write on the next Flush. Erase invalidates for itself.
//
// Device holds no lock of its own. Callers sharing a bus serialise access.
type Device struct {
	*diskio.Disk

	t    bus.Transport
	f    framing
	cfg  Config
	opts options
}

var _ diskio.SectorDevice = (*Device)(nil)

// Open binds a flash part to a transport and returns a ready device.
//
// The sequence is: run cfg.InitFunc, tell a Quad-SPI framer the capacity,
// check the identification when cfg.DevIDSize is set, then attach the cache
// passed with WithCache. Nothing is sent when t is nil or cfg is invalid.
//
// Example:
//
//	chip := flashsim.New(flashsim.Config{Size: 4 << 20})
//	dev, err := flash.Open(flash.Config{
//	    SectSize: 4, BlkSize: 64, TotalSize: 4096, AddrSize: 3,
//	    DevID: 0x1640EF, DevIDSize: 3,
//	}, chip)
func Open(cfg Config, t bus.Transport, opts ...Option) (*Device, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.InitFunc != nil {
		if err := cfg.InitFunc(cfg.DevNo, t); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitCallback, err)
		}
	}

	cfg.setDefaults()
	d := &Device{
		t:    t,
		cfg:  cfg,
		opts: o,
	}
	d.Disk = diskio.New(d, cfg.sectors())

	if t.Type() == bus.KindQSPI {
		q, ok := t.(bus.QuadFramer)
		if !ok {
			return nil, ErrNoQuadFramer
		}
		if err := q.SetMemSize(cfg.TotalSize); err != nil {
			return nil, fmt.Errorf("set memory size: %w", err)
		}
		d.f = quadFraming{d: d, q: q}
	} else {
		d.f = standardFraming{d: d}
	}

	if cfg.DevIDSize > 0 {
		if err := d.checkID(); err != nil {
			return nil, err
		}
	}

	if len(o.cache) > 0 {
		if err := d.SetCache(o.cache); err != nil {
			return nil, fmt.Errorf("attach cache: %w", err)
		}
	}

	d.logDebug("flash device open",
		"kind", t.Type().String(),
		"dev", cfg.DevNo,
		"total_kib", cfg.TotalSize,
		"addr_size", cfg.AddrSize,
		"cache_slots", len(o.cache),
	)

	return d, nil
}

// checkID reads the identification until it matches, 1+IDRetries times at
// most and with no delay in between.
func (d *Device) checkID() error {
	var got uint32

	for attempt := 1; attempt <= 1+IDRetries; attempt++ {
		id, err := d.ReadID(d.cfg.DevIDSize)
		if err == nil && id == d.cfg.DevID {
			d.logDebug("device ID matched", "id", fmt.Sprintf("0x%08X", id), "attempt", attempt)
			return nil
		}

		got = id
		d.logDebug("device ID mismatch",
			"want", fmt.Sprintf("0x%08X", d.cfg.DevID),
			"got", fmt.Sprintf("0x%08X", id),
			"attempt", attempt,
			"error", err,
		)
	}

	err := &IDMismatchError{Expected: d.cfg.DevID, Actual: got, Attempts: 1 + IDRetries}
	d.logError("identification failed", "error", err)
	return err
}

// Config returns the configuration in effect, with defaults applied.
func (d *Device) Config() Config {
	return d.cfg
}

// ReadID reads n identification bytes and packs them little-endian in the
// order received. n <= 0 returns protocol.IDNotRead without touching the bus.
func (d *Device) ReadID(n int) (uint32, error) {
	if n <= 0 {
		return protocol.IDNotRead, nil
	}
	if n > protocol.MaxIDSize {
		return protocol.IDNotRead, fmt.Errorf("identification length %d exceeds %d bytes", n, protocol.MaxIDSize)
	}

	var buf [protocol.MaxIDSize]byte
	got, err := d.f.readID(buf[:n])
	if err != nil {
		return protocol.IDNotRead, fmt.Errorf("read ID: %w", err)
	}

	return protocol.DecodeID(buf[:got], n)
}

// ReadStatus reads the status register.
func (d *Device) ReadStatus() (uint8, error) {
	st, err := d.f.readStatus()
	if err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	return st, nil
}

// WaitReady polls the status register up to timeout+1 times and reports
// whether the write-in-progress bit cleared. A failed status read counts as
// busy. When delay is positive the configured WaitFunc, or else the delay
// function, runs after every busy poll.
func (d *Device) WaitReady(timeout uint32, delay time.Duration) bool {
	for i := uint64(0); i <= uint64(timeout); i++ {
		st, err := d.ReadStatus()
		if err == nil && !protocol.Busy(st) {
			return true
		}

		if delay > 0 {
			if d.cfg.WaitFunc != nil {
				d.cfg.WaitFunc(d.cfg.DevNo, d.t)
			} else {
				d.opts.delay(delay)
			}
		}
	}

	return false
}

// WriteEnable waits up to timeout polls for the part to be idle, then sets
// the write enable latch. The wait is best-effort; only the transport error
// of the command itself is returned.
func (d *Device) WriteEnable(timeout uint32) error {
	_ = d.WaitReady(timeout, 0)
	return d.f.command(protocol.CmdWriteEnable)
}

// WriteDisable clears the write enable latch.
func (d *Device) WriteDisable() error {
	return d.f.command(protocol.CmdWriteDisable)
}

// Erase erases the whole chip and blocks until the part is idle, polling
// once a second. Whole-chip erase can take minutes.
func (d *Device) Erase() error {
	start := time.Now()

	_ = d.WriteEnable(WaitForever)
	_ = d.WaitReady(WaitForever, 0) // best-effort

	err := d.f.command(protocol.CmdBulkErase)

	_ = d.WaitReady(WaitForever, longPollDelay) // best-effort
	_ = d.WriteDisable()

	d.Invalidate(0, d.invalidateCount())

	if err != nil {
		d.logError("bulk erase failed", "error", err)
		return fmt.Errorf("bulk erase: %w", err)
	}

	d.logInfo("bulk erase complete", "elapsed", time.Since(start))
	return nil
}

// EraseBlock erases count blocks starting at block start.
func (d *Device) EraseBlock(start uint32, count int) error {
	return d.eraseUnits(protocol.CmdBlockErase, "block", start, count, d.cfg.BlkSize)
}

// EraseSector erases count erase sectors starting at sector start. Erase
// sectors are Config.SectSize KiB, not block-device sectors.
func (d *Device) EraseSector(start uint32, count int) error {
	return d.eraseUnits(protocol.CmdSectorErase, "sector", start, count, d.cfg.SectSize)
}

// eraseUnits erases count units of sizeKiB each. Write enable is set again
// for every unit because some parts clear it when the previous erase ends.
func (d *Device) eraseUnits(opcode byte, kind string, start uint32, count int, sizeKiB uint32) error {
	if count <= 0 {
		return nil
	}

	began := time.Now()
	unitBytes := sizeKiB * 1024
	addr := start * unitBytes

	var err error
	done := 0
	for ; done < count; done++ {
		_ = d.WaitReady(WaitForever, unitPollDelay) // best-effort
		_ = d.WriteEnable(WaitForever)

		if err = d.f.erase(opcode, addr); err != nil {
			err = fmt.Errorf("erase %s %d at 0x%06X: %w", kind, start+uint32(done), addr, err)
			break
		}

		d.logDebug("erase issued", "unit", kind, "number", start+uint32(done), "addr", fmt.Sprintf("0x%06X", addr))
		d.reportProgress(Progress{
			Phase:       PhaseErasing,
			Unit:        start + uint32(done),
			Done:        done + 1,
			Total:       count,
			Addr:        addr,
			Percentage:  float64(done+1) / float64(count) * 100,
			ElapsedTime: time.Since(began),
		})

		addr += unitBytes
	}

	_ = d.WaitReady(WaitForever, longPollDelay) // best-effort
	_ = d.WriteDisable()

	perUnit := unitBytes / diskio.SectorSize
	d.Invalidate(start*perUnit, uint32(done)*perUnit)

	if err != nil {
		d.logError("erase failed", "unit", kind, "error", err)
		return err
	}

	d.reportProgress(Progress{
		Phase:       PhaseComplete,
		Unit:        start + uint32(count) - 1,
		Done:        count,
		Total:       count,
		Addr:        addr - unitBytes,
		Percentage:  100,
		ElapsedTime: time.Since(began),
	})
	return nil
}

// SectRead reads block-device sector sector into p. It waits for any program
// or erase in flight first.
func (d *Device) SectRead(sector uint32, p []byte) error {
	if len(p) < diskio.SectorSize {
		return ErrShortBuffer
	}

	_ = d.WaitReady(readyTimeout, 0) // best-effort

	if err := d.f.readSector(sector*diskio.SectorSize, p[:diskio.SectorSize]); err != nil {
		d.logError("sector read failed", "sector", sector, "error", err)
		return fmt.Errorf("read sector %d: %w", sector, err)
	}
	return nil
}

// SectWrite programs block-device sector sector from p in chunks of at most
// Config.WriteSize bytes. The region must have been erased. Write enable is
// cleared on return whatever the outcome. The cache is not updated.
func (d *Device) SectWrite(sector uint32, p []byte) error {
	if len(p) < diskio.SectorSize {
		return ErrShortBuffer
	}

	defer func() {
		_ = d.WriteDisable()
	}()

	if err := d.f.writeSector(sector*diskio.SectorSize, p[:diskio.SectorSize]); err != nil {
		d.logError("sector write failed", "sector", sector, "error", err)
		return fmt.Errorf("write sector %d: %w", sector, err)
	}
	return nil
}

func (d *Device) invalidateCount() uint32 {
	if n := d.Sectors(); n > 0 {
		return n
	}
	return math.MaxUint32
}

// reportProgress calls the progress callback if configured.
func (d *Device) reportProgress(p Progress) {
	if d.opts.progress != nil {
		d.opts.progress(p)
	}
}

// logDebug logs a debug message if a logger is configured.
func (d *Device) logDebug(msg string, keysAndValues ...interface{}) {
	if d.opts.logger != nil {
		d.opts.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (d *Device) logInfo(msg string, keysAndValues ...interface{}) {
	if d.opts.logger != nil {
		d.opts.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (d *Device) logError(msg string, keysAndValues ...interface{}) {
	if d.opts.logger != nil {
		d.opts.logger.Error(msg, keysAndValues...)
	}
}
