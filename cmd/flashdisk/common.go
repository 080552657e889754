package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"

	"github.com/moffa90/go-flashdisk/bus"
	"github.com/moffa90/go-flashdisk/bus/periphbus"
	"github.com/moffa90/go-flashdisk/diskio"
	"github.com/moffa90/go-flashdisk/flash"
	"github.com/moffa90/go-flashdisk/flashsim"
	"github.com/moffa90/go-flashdisk/internal/logging"
	"github.com/moffa90/go-flashdisk/profile"
)

const (
	// simMemory selects an in-memory simulated part.
	simMemory = "mem"

	// defaultSimPart is simulated when no part is named.
	defaultSimPart = "W25Q16JV"

	// cacheSlots is the number of sector cache slots attached to a device.
	cacheSlots = 8
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	profilePath string
	part        string
	spiPort     string
	cs          string
	hz          physic.Frequency
	sim         string
	simSize     string
	logLevel    string
	logFormat   string
}

func (c *commonFlags) setCommonFlags(f *flag.FlagSet) {
	c.hz = 10 * physic.MegaHertz

	f.StringVar(&c.profilePath, "profile", "", "YAML file with part profiles")
	f.StringVar(&c.part, "part", "", "part name, from -profile or the built-in table; detected from the JEDEC ID when empty")
	f.StringVar(&c.spiPort, "spi", "", "SPI port name, e.g. /dev/spidev0.0 or SPI0.0")
	f.StringVar(&c.cs, "cs", "", "GPIO pin driven as chip select; empty uses the controller's")
	f.Var(&c.hz, "hz", "SPI clock")
	f.StringVar(&c.sim, "sim", "", `simulate the part: "mem" or an image file path`)
	f.StringVar(&c.simSize, "sim-size", "", "simulated capacity, e.g. 8MiB (default: profile size)")
	f.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	f.StringVar(&c.logFormat, "log-format", "console", "log format: console or json")
}

// session is an open device and everything that has to be released with it.
type session struct {
	dev  *flash.Device
	prof *profile.Profile
	chip *flashsim.Chip
	log  *zap.Logger

	closers []func() error
}

// Close flushes the cache and releases the transport. A file-backed
// simulated part is saved.
func (s *session) Close() error {
	var err error
	if s.dev != nil {
		err = multierr.Append(err, s.dev.Flush())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	_ = s.log.Sync()
	return err
}

// open resolves the part, opens the transport and the device. When no part
// is named it is detected from the JEDEC ID; requireProfile makes an unknown
// part an error.
func (c *commonFlags) open(requireProfile bool, opts ...flash.Option) (*session, error) {
	log, err := logging.New(c.logLevel, c.logFormat)
	if err != nil {
		return nil, err
	}

	s := &session{log: log}

	prof, err := c.resolveProfile()
	if err != nil {
		return nil, err
	}

	t, err := c.transport(s, &prof)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	opts = append([]flash.Option{
		flash.WithLogger(logging.Sugar(log).Named("flash")),
		flash.WithCache(make([]diskio.CacheDesc, cacheSlots)),
	}, opts...)

	if prof == nil {
		prof, err = detect(t, log)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if prof == nil && requireProfile {
			_ = s.Close()
			return nil, errors.New("unknown part; name it with -part or -profile")
		}
	}
	s.prof = prof

	cfg := probeConfig()
	if prof != nil {
		cfg = prof.Config(0)
	}

	s.dev, err = flash.Open(cfg, t, opts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open device: %w", err)
	}
	return s, nil
}

// resolveProfile returns the part named by -profile and -part, nil when the
// part has to be detected.
func (c *commonFlags) resolveProfile() (*profile.Profile, error) {
	if c.profilePath != "" {
		profiles, err := profile.Parse(c.profilePath)
		if err != nil {
			return nil, err
		}
		if c.part == "" {
			if len(profiles) > 1 {
				return nil, fmt.Errorf("%s holds %d profiles; choose one with -part", c.profilePath, len(profiles))
			}
			return profiles[0], nil
		}
		for _, p := range profiles {
			if strings.EqualFold(p.Name, c.part) {
				return p, nil
			}
		}
		return nil, fmt.Errorf("part %q not found in %s", c.part, c.profilePath)
	}

	if c.part == "" {
		return nil, nil
	}
	p, ok := profile.ByName(c.part)
	if !ok {
		return nil, fmt.Errorf("unknown part %q", c.part)
	}
	return p, nil
}

// transport opens the simulated part or the SPI port. A simulated part
// needs a profile, so *prof is filled with the default part when empty.
func (c *commonFlags) transport(s *session, prof **profile.Profile) (bus.Transport, error) {
	if c.sim != "" {
		if *prof == nil {
			p, _ := profile.ByName(defaultSimPart)
			*prof = p
		}
		chip, err := c.simulate(*prof)
		if err != nil {
			return nil, err
		}
		s.chip = chip
		if c.sim != simMemory {
			s.closers = append(s.closers, chip.Save)
		}
		return chip, nil
	}

	if c.spiPort == "" {
		return nil, errors.New("no transport; pass -spi or -sim")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialize host drivers: %w", err)
	}

	var pins []string
	if c.cs != "" {
		pins = append(pins, c.cs)
	}
	t, err := periphbus.OpenSPI(c.spiPort, c.hz, spi.Mode0, pins...)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, t.Close)
	return t, nil
}

func (c *commonFlags) simulate(p *profile.Profile) (*flashsim.Chip, error) {
	id, err := p.IDBytes()
	if err != nil {
		return nil, fmt.Errorf("profile %s: id: %w", p.Name, err)
	}

	size := p.SizeBytes()
	if c.simSize != "" {
		if size, err = parseSize(c.simSize); err != nil {
			return nil, fmt.Errorf("-sim-size: %w", err)
		}
	}

	cfg := flashsim.Config{
		Size:       int(size),
		ID:         id,
		AddrSize:   p.AddrSize,
		SectorSize: int(p.SectorKiB) * 1024,
		BlockSize:  int(p.BlockKiB) * 1024,
	}
	if c.sim == simMemory {
		return flashsim.New(cfg), nil
	}
	return flashsim.Open(c.sim, cfg)
}

// probeConfig is enough to identify an unknown part.
func probeConfig() flash.Config {
	return flash.Config{
		SectSize: 4,
		BlkSize:  64,
		AddrSize: 3,
	}
}

// detect reads the JEDEC ID and looks it up in the built-in table.
func detect(t bus.Transport, log *zap.Logger) (*profile.Profile, error) {
	dev, err := flash.Open(probeConfig(), t)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}

	p, id, err := profile.Identify(dev)
	if err != nil {
		return nil, fmt.Errorf("read id: %w", err)
	}
	log.Debug("identified part", zap.Stringer("jedec", id), zap.Bool("known", p != nil))
	return p, nil
}

// parseSize accepts plain or 0x-prefixed integers and humanized sizes such
// as 64KiB.
func parseSize(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	return humanize.ParseBytes(s)
}

// span resolves -offset and -length against the device capacity. A zero
// length runs to the end of the device.
func span(offset, length string, size int64) (int64, int64, error) {
	var off, n uint64
	var err error

	if offset != "" {
		if off, err = parseSize(offset); err != nil {
			return 0, 0, fmt.Errorf("-offset: %w", err)
		}
	}
	if length != "" {
		if n, err = parseSize(length); err != nil {
			return 0, 0, fmt.Errorf("-length: %w", err)
		}
	}

	if int64(off) > size {
		return 0, 0, fmt.Errorf("offset %d is past the end of the %s device", off, humanize.IBytes(uint64(size)))
	}
	if n == 0 {
		n = uint64(size) - off
	}
	if int64(off+n) > size {
		return 0, 0, fmt.Errorf("range %d+%d is past the end of the %s device", off, n, humanize.IBytes(uint64(size)))
	}
	return int64(off), int64(n), nil
}

// units returns the first erase unit and the unit count covering
// [off, off+n). off must be unit aligned.
func units(off, n int64, unitKiB uint32) (uint32, int, error) {
	unit := int64(unitKiB) * 1024
	if unit == 0 {
		return 0, 0, errors.New("erase unit size is zero")
	}
	if off%unit != 0 {
		return 0, 0, fmt.Errorf("offset 0x%X is not aligned to the %s erase unit", off, humanize.IBytes(uint64(unit)))
	}
	return uint32(off / unit), int((n + unit - 1) / unit), nil
}

func fail(name string, err error) {
	fmt.Fprintf(os.Stderr, "flashdisk %s: %v\n", name, err)
}
