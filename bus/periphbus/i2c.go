package periphbus

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/moffa90/go-flashdisk/bus"
)

// maxAddr is the highest 7-bit I2C address.
const maxAddr = 0x7F

// I2C adapts a periph I2C bus to bus.Transport. devNo is the 7-bit device
// address.
//
// I2C has no open-ended transactions, so bytes passed to TxData are
// buffered: RxData sends them as the write half of a repeated-start
// exchange and StopTx sends whatever is left. An error from StopTx is held
// until Err is called.
type I2C struct {
	bus    i2c.Bus
	closer i2c.BusCloser

	active bool
	addr   uint16
	w      []byte
	err    error
}

// NewI2C wraps b.
func NewI2C(b i2c.Bus) *I2C {
	return &I2C{bus: b}
}

// OpenI2C opens an I2C bus by name through the periph registry. An empty
// name opens the first bus. host.Init must have been called.
func OpenI2C(name string) (*I2C, error) {
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}

	i := NewI2C(b)
	i.closer = b
	return i, nil
}

// Close releases the bus when it was opened by OpenI2C.
func (i *I2C) Close() error {
	if i.closer == nil {
		return nil
	}
	return i.closer.Close()
}

// String returns the underlying bus name.
func (i *I2C) String() string {
	return i.bus.String()
}

// Err returns and clears the error of the last buffered write.
func (i *I2C) Err() error {
	err := i.err
	i.err = nil
	return err
}

// Type implements bus.Transport.
func (i *I2C) Type() bus.Kind {
	return bus.KindI2C
}

// StartRx implements bus.Transport.
func (i *I2C) StartRx(devNo int) error {
	return i.begin(devNo)
}

// StartTx implements bus.Transport.
func (i *I2C) StartTx(devNo int) error {
	return i.begin(devNo)
}

// StopRx implements bus.Transport.
func (i *I2C) StopRx() {
	i.end()
}

// StopTx implements bus.Transport.
func (i *I2C) StopTx() {
	i.end()
}

// TxData buffers p for the next bus exchange.
func (i *I2C) TxData(p []byte) (int, error) {
	if !i.active {
		return 0, ErrNoDevice
	}
	i.w = append(i.w, p...)
	return len(p), nil
}

// RxData sends the buffered bytes and reads len(p) bytes with a repeated
// start.
func (i *I2C) RxData(p []byte) (int, error) {
	if !i.active {
		return 0, ErrNoDevice
	}

	w := i.w
	i.w = i.w[:0]
	if err := i.bus.Tx(i.addr, w, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Tx writes p to devNo.
func (i *I2C) Tx(devNo int, p []byte) (int, error) {
	addr, err := address(devNo)
	if err != nil {
		return 0, err
	}
	if err := i.bus.Tx(addr, p, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read writes cmd then reads p from devNo with a repeated start.
func (i *I2C) Read(devNo int, cmd, p []byte) (int, error) {
	addr, err := address(devNo)
	if err != nil {
		return 0, err
	}
	if err := i.bus.Tx(addr, cmd, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Write sends cmd and data to devNo as one bus write.
func (i *I2C) Write(devNo int, cmd, data []byte) (int, error) {
	addr, err := address(devNo)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 0, len(cmd)+len(data))
	buf = append(append(buf, cmd...), data...)
	if err := i.bus.Tx(addr, buf, nil); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (i *I2C) begin(devNo int) error {
	if i.active {
		return ErrInTransaction
	}

	addr, err := address(devNo)
	if err != nil {
		return err
	}

	i.addr = addr
	i.w = i.w[:0]
	i.active = true
	return nil
}

func (i *I2C) end() {
	if len(i.w) > 0 {
		i.err = i.bus.Tx(i.addr, i.w, nil)
		i.w = i.w[:0]
	}
	i.active = false
}

func address(devNo int) (uint16, error) {
	if devNo < 0 || devNo > maxAddr {
		return 0, fmt.Errorf("%w: 0x%X", ErrBadDevice, devNo)
	}
	return uint16(devNo), nil
}
