package flash

import (
	"time"

	"github.com/moffa90/go-flashdisk/diskio"
)

// options holds the run-time settings that are not part of the part's
// geometry.
type options struct {
	logger   Logger
	progress ProgressCallback
	cache    []diskio.CacheDesc
	delay    func(time.Duration)
}

func defaultOptions() options {
	return options{
		delay: time.Sleep,
	}
}

// Option configures a Device at Open.
type Option func(*options)

// WithLogger sets a logger for device operations.
//
// Example:
//
//	dev, err := flash.Open(cfg, t, flash.WithLogger(logging.Sugar(zl)))
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProgressCallback sets a callback reporting sector and block erase
// progress.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(o *options) {
		o.progress = callback
	}
}

// WithCache attaches caller-owned cache slots to the device's block facade.
// The slots must outlive the device. An empty slice leaves caching off.
//
// Example:
//
//	slots := make([]diskio.CacheDesc, 4)
//	dev, err := flash.Open(cfg, t, flash.WithCache(slots))
func WithCache(slots []diskio.CacheDesc) Option {
	return func(o *options) {
		o.cache = slots
	}
}

// WithDelayFunc replaces the delay used between busy polls when the
// configuration has no WaitFunc. The default is time.Sleep.
func WithDelayFunc(delay func(time.Duration)) Option {
	return func(o *options) {
		if delay != nil {
			o.delay = delay
		}
	}
}
