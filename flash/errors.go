package flash

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-flashdisk/diskio"
)

// Sentinel errors returned by Open and the sector operations.
var (
	// ErrNoTransport is returned by Open when no transport is given.
	ErrNoTransport = errors.New("flash: transport cannot be nil")

	// ErrNoQuadFramer is returned by Open when a Quad-SPI transport does not
	// implement bus.QuadFramer.
	ErrNoQuadFramer = errors.New("flash: quad-spi transport has no command framer")

	// ErrInitCallback wraps a failure reported by Config.InitFunc.
	ErrInitCallback = errors.New("flash: init callback failed")

	// ErrShortBuffer is returned for sector buffers smaller than
	// diskio.SectorSize. It is the same value as diskio.ErrShortBuffer.
	ErrShortBuffer = diskio.ErrShortBuffer
)

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s = %v: %s", e.Field, e.Value, e.Reason)
}

// IDMismatchError indicates that the device identification did not match the
// configured value on any attempt.
type IDMismatchError struct {
	Expected uint32
	Actual   uint32
	Attempts int
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("device ID mismatch: expected 0x%08X, device has 0x%08X after %d attempts",
		e.Expected, e.Actual, e.Attempts)
}

// TransferError indicates that a data phase failed or moved no bytes.
type TransferError struct {
	// Op is "read" or "program"
	Op string

	// Addr is the byte address of the failed transfer
	Addr uint32

	// Done is the number of bytes moved before the failure
	Done int

	// Err is the transport error, nil for a stalled transfer
	Err error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s stalled at 0x%06X after %d bytes", e.Op, e.Addr, e.Done)
	}
	return fmt.Sprintf("%s failed at 0x%06X after %d bytes: %v", e.Op, e.Addr, e.Done, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
