package async

import "log/slog"

// options configures one AsyncRecordProcessor instance. There is no
// package-level default registry: each RegisterAsyncProcessor call produces
// its own worker pool, sized and tuned by these options.
type options struct {
	poolSize        int
	maxEventsPerKey int
	declaredStores  []string
	log             *slog.Logger
}

func defaultOptions() options {
	return options{
		poolSize:        4,
		maxEventsPerKey: 1,
	}
}

// Option configures an AsyncRecordProcessor at registration time.
type Option func(*options)

// WithPoolSize sets the number of worker goroutines backing the processor.
// Each worker owns a dedicated inner processor instance for the pool's
// lifetime. n <= 0 is treated as 1.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithMaxEventsPerKey caps how many events for the same key may be admitted
// to the scheduling queue before ProcessRecord blocks. The event at the head of a
// key's queue is the only one ever dispatched to a worker; later events for
// that key wait in SchedulingQueue regardless of this cap, which governs
// admission, not processability. n <= 0 is treated as 1.
func WithMaxEventsPerKey(n int) Option {
	return func(o *options) { o.maxEventsPerKey = n }
}

// WithDeclaredStores records the store names RegisterAsyncProcessor was given
// for this processor. Init compares this set against the store names workers
// actually call GetStore for and fails fast on a mismatch. Not meant to be
// set by user code directly — RegisterAsyncProcessor supplies it from its own
// stores argument.
func WithDeclaredStores(names []string) Option {
	return func(o *options) { o.declaredStores = names }
}

// WithLogger sets the logger used for operational warnings, such as Close
// being called with events still pending. Defaults to a discard logger,
// matching App.log's own default (NullLogger) when unset.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}
