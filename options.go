package pointlake

import (
	"log/slog"

	"github.com/pointlake/pointlake/metrics"
)

type options struct {
	logger    *Logger
	collector metrics.Collector
}

// Option configures Create and Open behavior.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector. Pass nil to disable
// metrics collection.
func WithMetricsCollector(c metrics.Collector) Option {
	return func(o *options) {
		if c == nil {
			c = metrics.NoopCollector{}
		}
		o.collector = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:    NoopLogger(),
		collector: metrics.NoopCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
