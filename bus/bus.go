// Package bus defines the transport contracts the device drivers are written
// against.
//
// A Transport is a half-duplex byte pipe with explicit transaction framing:
// StartTx/StartRx select the device and StopTx/StopRx release it. Drivers
// never talk to a bus controller directly. Concrete transports live in
// subpackages (see periphbus) or in test doubles (see flashsim).
package bus

import (
	"errors"
	"fmt"
)

// Kind tags the physical framing a transport uses.
type Kind uint8

// Transport kinds.
const (
	KindSPI  Kind = iota // Standard single-line SPI
	KindI2C              // I2C, device selected by 7-bit address
	KindQSPI             // Quad-SPI, framed through a QuadFramer
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindSPI:
		return "spi"
	case KindI2C:
		return "i2c"
	case KindQSPI:
		return "qspi"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Transport is the bus contract consumed by the drivers.
//
// TxData and RxData may transfer fewer bytes than requested; callers loop on
// the returned count. A count <= 0 with a nil error is a stalled bus.
type Transport interface {
	// Type returns the framing kind of the transport.
	Type() Kind

	// StartRx begins a receive transaction addressed to devNo.
	StartRx(devNo int) error

	// StopRx ends the current receive transaction.
	StopRx()

	// StartTx begins a transmit transaction addressed to devNo.
	StartTx(devNo int) error

	// StopTx ends the current transmit transaction.
	StopTx()

	// RxData receives up to len(p) bytes within the current transaction.
	RxData(p []byte) (int, error)

	// TxData transmits up to len(p) bytes within the current transaction.
	TxData(p []byte) (int, error)

	// Tx sends p to devNo as one complete transaction.
	Tx(devNo int, p []byte) (int, error)
}

// WriteReader is implemented by transports with a native combined
// write-then-read primitive (repeated start on I2C, one chip-select window on
// SPI).
type WriteReader interface {
	// Read sends cmd then receives into p within a single transaction and
	// returns the number of bytes received.
	Read(devNo int, cmd, p []byte) (int, error)
}

// CmdWriter is implemented by transports that must send a command and its
// payload as one bus write (I2C register writes).
type CmdWriter interface {
	// Write sends cmd followed by data in a single transaction and returns
	// the number of data bytes accepted.
	Write(devNo int, cmd, data []byte) (int, error)
}

// QuadFramer encodes opcode, address, dummy cycles and data length into one
// quad-lane instruction frame. Transports of KindQSPI implement it.
type QuadFramer interface {
	// SetMemSize tells the controller the device capacity in KiB so it can
	// choose 3- or 4-byte addressing.
	SetMemSize(totalKiB uint64) error

	// SendCmd issues the instruction phase of the current transaction. The
	// data phase that follows is dataLen bytes through RxData or TxData.
	SendCmd(opcode byte, addr uint32, addrLen, dataLen, dummyCycles int) error
}

// ErrStalled is returned by the helpers when a transfer moved no data or
// only part of a command.
var ErrStalled = errors.New("bus stalled")

// Read performs a write-then-read exchange with devNo. It uses the
// transport's WriteReader when available and otherwise brackets TxData and
// RxData in one receive transaction.
func Read(t Transport, devNo int, cmd, p []byte) (int, error) {
	if wr, ok := t.(WriteReader); ok {
		return wr.Read(devNo, cmd, p)
	}

	if err := t.StartRx(devNo); err != nil {
		return 0, err
	}
	defer t.StopRx()

	if n, err := t.TxData(cmd); err != nil {
		return 0, fmt.Errorf("send command: %w", err)
	} else if n < len(cmd) {
		return 0, ErrStalled
	}

	return t.RxData(p)
}

// Write sends cmd followed by data to devNo in one transmit transaction and
// returns the number of data bytes accepted. Transports implementing
// CmdWriter are handed the whole exchange.
func Write(t Transport, devNo int, cmd, data []byte) (int, error) {
	if cw, ok := t.(CmdWriter); ok {
		return cw.Write(devNo, cmd, data)
	}

	if err := t.StartTx(devNo); err != nil {
		return 0, err
	}
	defer t.StopTx()

	if n, err := t.TxData(cmd); err != nil {
		return 0, fmt.Errorf("send command: %w", err)
	} else if n < len(cmd) {
		return 0, ErrStalled
	}

	if len(data) == 0 {
		return 0, nil
	}

	return t.TxData(data)
}
