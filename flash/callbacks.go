package flash

import (
	"time"

	"github.com/moffa90/go-flashdisk/bus"
)

// InitFunc prepares the bus or the part before identification, for example
// releasing a hold pin or leaving deep power-down. A non-nil error aborts
// Open.
type InitFunc func(devNo int, t bus.Transport) error

// WaitFunc is called between busy polls instead of the delay when set. It
// lets the caller yield to a scheduler or sleep until an interrupt.
type WaitFunc func(devNo int, t bus.Transport)

// Erase phases reported through Progress.
const (
	PhaseErasing  = "erasing"
	PhaseComplete = "complete"
)

// Progress describes how far an erase has come.
type Progress struct {
	// Phase is PhaseErasing while units are issued, then PhaseComplete once
	// the part is idle again
	Phase string

	// Unit is the sector or block number just issued
	Unit uint32

	// Done and Total count issued units
	Done  int
	Total int

	// Addr is the byte address of Unit
	Addr uint32

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the erase started
	ElapsedTime time.Duration
}

// ProgressCallback receives erase progress. Implementations should return
// quickly; the bus is idle but the caller is blocked.
//
// Example:
//
//	dev, err := flash.Open(cfg, t,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %d/%d\n", p.Phase, p.Percentage, p.Done, p.Total)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface. It matches the key/value methods
// of zap's SugaredLogger adapter in internal/logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
