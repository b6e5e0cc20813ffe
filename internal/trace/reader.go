package trace

import (
	"fmt"

	"github.com/charmbracelet/log"

	"tracefeed/internal/logging"
)

// Defaults for reader tuning.
const (
	DefaultTextCapacity   = 256
	DefaultBinaryCapacity = 32
	DefaultSkipLimit      = 10000
	DefaultBinaryBuffer   = 1 << 20
	DefaultTextBuffer     = 64 << 10

	// MinCapacity is the smallest slot pool that holds the lookahead window
	// plus the event last returned to the caller.
	MinCapacity = 4
)

// Reader produces trace events in order.
type Reader interface {
	// Valid reports whether the trace source was opened.
	Valid() bool
	// Next returns the next event. At the end of the trace it returns an
	// event with Valid == false, and keeps doing so on every later call.
	// Decoded points into reader-owned storage that is reused after
	// capacity-3 further calls.
	Next() Event
	// Stats returns counters for the events parsed so far, including the
	// lookahead.
	Stats() Stats
	// Close releases the trace source. It is safe to call more than once.
	Close() error
}

// Fatal ends the process after an unrecoverable trace condition. Readers
// release their source before calling it.
var Fatal = func(logger *log.Logger, msg string, keyvals ...any) {
	logger.Fatal(msg, keyvals...)
}

type options struct {
	logger     *log.Logger
	capacity   int
	skipLimit  uint64
	bufferSize int
}

// Option tunes a reader.
type Option func(*options)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCapacity sets the slot pool size. The text reader also batches this
// many raw lines per refill.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithSkipLimit sets how many undecodable instructions the text reader
// tolerates before terminating the process.
func WithSkipLimit(n uint64) Option {
	return func(o *options) { o.skipLimit = n }
}

// WithBufferSize sets the I/O buffer size in bytes.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

func newOptions(capacity, bufferSize int, opts []Option) options {
	o := options{
		capacity:   capacity,
		skipLimit:  DefaultSkipLimit,
		bufferSize: bufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.capacity < MinCapacity {
		o.capacity = MinCapacity
	}
	if o.bufferSize < LineSize*2 {
		o.bufferSize = LineSize * 2
	}
	return o
}

// Open opens path with the reader for format. FormatAuto picks the format
// from the file name.
func Open(path string, format Format, opts ...Option) (Reader, error) {
	if format == FormatAuto {
		format = FormatFromPath(path)
	}
	switch format {
	case FormatText:
		r, err := OpenText(path, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	case FormatBinary:
		r, err := OpenBinary(path, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unsupported trace format %v", format)
}
