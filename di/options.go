package di

import (
	"time"

	"github.com/rs/zerolog"
)

// Observer is notified after every service construction.
type Observer interface {
	Resolved(id string, elapsed time.Duration, err error)
}

type options struct {
	log      zerolog.Logger
	observer Observer
	params   Parameters
}

func defaultOptions() options {
	return options{log: zerolog.Nop()}
}

// Option configures a Builder or a Container.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver sets an observer for service construction.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithParameterSource adds a parameter source consulted before the
// container's own parameter table.
func WithParameterSource(p Parameters) Option {
	return func(o *options) { o.params = p }
}

func applyOptions(base options, opts []Option) options {
	for _, o := range opts {
		if o != nil {
			o(&base)
		}
	}
	return base
}
