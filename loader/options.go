package loader

import "github.com/go-kit/log"

// DefaultCapacity is the number of images a Loader accepts unless
// WithCapacity says otherwise.
const DefaultCapacity = 25

type Option func(*Loader)

func WithCapacity(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.capacity = n
		}
	}
}

func WithLogger(logger log.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}
