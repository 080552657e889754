// Package flashsim emulates a serial NOR flash part on the far side of a
// bus.Transport.
//
// The chip decodes the same command set the flash driver speaks, on either a
// single-line transport or through the QuadFramer, and applies NOR rules to
// its memory: erase sets bytes to 0xFF and program can only clear bits. It
// keeps a log of completed commands and atomic counters of bus activity, and
// can be told to stay busy, stall data transfers or move at most a few bytes
// per call, which makes it the test double for the driver packages.
//
// Basic usage:
//
//	chip := flashsim.New(flashsim.Config{Size: 1 << 20, MaxTransfer: 64})
//	dev, err := flash.Open(cfg, chip)
//
// A chip opened with Open is backed by an image file and persists it on Save.
package flashsim
