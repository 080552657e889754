//go:build !deadlock_detection

// Package sync provides the mutex types used by the drivers. Building with
// the deadlock_detection tag swaps them for go-deadlock implementations.
package sync

import "sync"

type Mutex = sync.Mutex
