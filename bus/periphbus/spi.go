package periphbus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/moffa90/go-flashdisk/bus"
)

// Errors returned by the adapters.
var (
	ErrNoDevice      = errors.New("periphbus: no device selected")
	ErrBadDevice     = errors.New("periphbus: device number out of range")
	ErrInTransaction = errors.New("periphbus: transaction already open")
	ErrWindowClosed  = errors.New("periphbus: chip-select window already closed")
)

// SPI adapts a periph SPI connection to bus.Transport. Devices are selected
// by driving a GPIO chip-select low; devNo indexes the chip-select pins.
//
// With no pins the controller's own chip-select is used and devNo must be 0.
// The controller deasserts it after every call, so TxData only buffers and
// the buffered bytes go out together with the first RxData as one
// TxPackets exchange, or alone at StopRx/StopTx. That closes the window: a
// later RxData returns 0 and a later TxData fails with ErrWindowClosed.
// Errors from the flush at Stop are kept until Err is called.
type SPI struct {
	conn spi.Conn
	cs   []gpio.PinOut
	max  int
	port spi.PortCloser

	active bool
	sel    gpio.PinOut
	pend   []byte
	closed bool
	err    error
	zeros  []byte
}

// NewSPI wraps c. Every chip-select pin is driven high.
func NewSPI(c spi.Conn, cs ...gpio.PinOut) (*SPI, error) {
	s := &SPI{conn: c, cs: cs}
	if l, ok := c.(conn.Limits); ok {
		s.max = l.MaxTxSize()
	}

	for i, p := range cs {
		if err := p.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("chip select %d: %w", i, err)
		}
	}
	return s, nil
}

// OpenSPI opens an SPI port by name through the periph registry and
// connects at hz in mode with 8-bit words. csPins name the GPIO
// chip-select lines, one per device. host.Init must have been called.
func OpenSPI(port string, hz physic.Frequency, mode spi.Mode, csPins ...string) (*SPI, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", port, err)
	}

	c, err := p.Connect(hz, mode, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("connect spi port %q: %w", port, err)
	}

	pins := make([]gpio.PinOut, 0, len(csPins))
	for _, name := range csPins {
		pin := gpioreg.ByName(name)
		if pin == nil {
			p.Close()
			return nil, fmt.Errorf("chip select pin %q not found", name)
		}
		pins = append(pins, pin)
	}

	s, err := NewSPI(c, pins...)
	if err != nil {
		p.Close()
		return nil, err
	}
	s.port = p
	return s, nil
}

// Close releases the port when it was opened by OpenSPI.
func (s *SPI) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// String returns the underlying connection name.
func (s *SPI) String() string {
	return s.conn.String()
}

// Err returns and clears the error of the last buffered command sent at
// StopRx or StopTx.
func (s *SPI) Err() error {
	err := s.err
	s.err = nil
	return err
}

// MaxTransfer returns the per-call transfer limit, 0 when unlimited.
func (s *SPI) MaxTransfer() int {
	return s.max
}

// Type implements bus.Transport.
func (s *SPI) Type() bus.Kind {
	return bus.KindSPI
}

// StartRx implements bus.Transport.
func (s *SPI) StartRx(devNo int) error {
	return s.selectDev(devNo)
}

// StartTx implements bus.Transport.
func (s *SPI) StartTx(devNo int) error {
	return s.selectDev(devNo)
}

// StopRx implements bus.Transport.
func (s *SPI) StopRx() {
	s.deselect()
}

// StopTx implements bus.Transport.
func (s *SPI) StopTx() {
	s.deselect()
}

// TxData clocks out up to MaxTransfer bytes of p. On the controller's
// chip-select the bytes are buffered.
func (s *SPI) TxData(p []byte) (int, error) {
	if !s.active {
		return 0, ErrNoDevice
	}
	if s.closed {
		return 0, ErrWindowClosed
	}

	n := s.room(len(p))
	if n == 0 {
		return 0, nil
	}
	if s.sel == nil {
		s.pend = append(s.pend, p[:n]...)
		return n, nil
	}
	if err := s.conn.Tx(p[:n], nil); err != nil {
		return 0, err
	}
	return n, nil
}

// RxData clocks in up to MaxTransfer bytes into p while sending zeros.
func (s *SPI) RxData(p []byte) (int, error) {
	if !s.active {
		return 0, ErrNoDevice
	}
	if s.closed {
		return 0, nil
	}

	n := s.room(len(p))
	if n == 0 {
		return 0, nil
	}
	if cap(s.zeros) < n {
		s.zeros = make([]byte, n)
	}

	var err error
	switch {
	case s.sel != nil:
		err = s.conn.Tx(s.zeros[:n], p[:n])
	case len(s.pend) == 0:
		err = s.conn.Tx(s.zeros[:n], p[:n])
		s.closed = true
	default:
		err = s.conn.TxPackets([]spi.Packet{
			{W: s.pend, KeepCS: true},
			{W: s.zeros[:n], R: p[:n]},
		})
		s.pend = s.pend[:0]
		s.closed = true
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Tx sends p to devNo in one chip-select window. On the controller's
// chip-select at most MaxTransfer bytes go out.
func (s *SPI) Tx(devNo int, p []byte) (int, error) {
	if err := s.selectDev(devNo); err != nil {
		return 0, err
	}
	defer s.deselect()

	n, err := s.loop(p, s.TxData)
	if err != nil {
		return n, err
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// Write sends cmd and then data to devNo in one chip-select window and
// returns the number of data bytes sent. It implements bus.CmdWriter.
func (s *SPI) Write(devNo int, cmd, data []byte) (int, error) {
	if err := s.selectDev(devNo); err != nil {
		return 0, err
	}
	defer s.deselect()

	if n, err := s.loop(cmd, s.TxData); err != nil {
		return 0, fmt.Errorf("send command: %w", err)
	} else if n < len(cmd) {
		s.pend = s.pend[:0]
		return 0, bus.ErrStalled
	}

	n, err := s.loop(data, s.TxData)
	if err != nil {
		return 0, err
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// Read sends cmd and fills p in one chip-select window, splitting both
// phases at the connection limit. On the controller's chip-select p is
// filled only as far as one call allows.
func (s *SPI) Read(devNo int, cmd, p []byte) (int, error) {
	if err := s.selectDev(devNo); err != nil {
		return 0, err
	}
	defer s.deselect()

	if n, err := s.loop(cmd, s.TxData); err != nil {
		return 0, fmt.Errorf("send command: %w", err)
	} else if n < len(cmd) {
		s.pend = s.pend[:0]
		return 0, bus.ErrStalled
	}

	return s.loop(p, s.RxData)
}

func (s *SPI) loop(p []byte, step func([]byte) (int, error)) (int, error) {
	done := 0
	for done < len(p) {
		n, err := step(p[done:])
		if err != nil {
			return done, err
		}
		if n <= 0 {
			break
		}
		done += n
	}
	return done, nil
}

// room caps n at what still fits in one call, counting buffered bytes.
func (s *SPI) room(n int) int {
	if s.max > 0 {
		return min(n, s.max-len(s.pend))
	}
	return n
}

// flush sends the buffered bytes as one window.
func (s *SPI) flush() error {
	if len(s.pend) == 0 {
		return nil
	}
	err := s.conn.Tx(s.pend, nil)
	s.pend = s.pend[:0]
	s.closed = true
	return err
}

func (s *SPI) selectDev(devNo int) error {
	if s.active {
		return ErrInTransaction
	}

	switch {
	case len(s.cs) == 0 && devNo == 0:
		s.sel = nil
	case devNo >= 0 && devNo < len(s.cs):
		s.sel = s.cs[devNo]
		if err := s.sel.Out(gpio.Low); err != nil {
			return fmt.Errorf("select device %d: %w", devNo, err)
		}
	default:
		return fmt.Errorf("%w: %d", ErrBadDevice, devNo)
	}

	s.active = true
	return nil
}

func (s *SPI) deselect() {
	if err := s.flush(); err != nil {
		s.err = err
	}
	if s.sel != nil {
		_ = s.sel.Out(gpio.High)
	}
	s.sel = nil
	s.active = false
	s.closed = false
}
