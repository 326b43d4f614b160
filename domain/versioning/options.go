package versioning

import (
	"runtime"
	"time"
)

// Option configures a StateExtractor, StateApplier or IteratorIDManager.
type Option func(*options)

type options struct {
	codec       Codec
	parallelism int
	clock       func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		codec:       NewJSONCodec(),
		parallelism: runtime.GOMAXPROCS(0),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCodec sets the text codec used for whole values
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithParallelism bounds the number of goroutines used per call.
// A value of 1 disables parallel processing.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithClock sets the time source for Version.CreatedAt
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}
