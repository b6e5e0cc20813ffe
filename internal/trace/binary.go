package trace

import (
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"tracefeed/internal/xdec"
)

// BinaryReader replays a gzip stream of fixed-size Records. It keeps two
// parsed records ahead of the event it returns next.
type BinaryReader struct {
	path   string
	logger *log.Logger
	src    *source
	buf    [RecordSize]byte

	slots []slot
	cur   int

	stats  Stats
	opened bool
	end    bool
}

// OpenBinary opens a binary trace written by the convert tool.
func OpenBinary(path string, opts ...Option) (*BinaryReader, error) {
	o := newOptions(DefaultBinaryCapacity, DefaultBinaryBuffer, opts)

	src, err := openSource(path, o.bufferSize, true)
	if err != nil {
		return nil, err
	}
	xdec.Init()

	r := &BinaryReader{
		path:   path,
		logger: o.logger,
		src:    src,
		slots:  make([]slot, o.capacity),
		opened: true,
	}
	r.logger.Debug("opened binary trace", "path", path, "capacity", o.capacity)

	r.parse(&r.slots[0])
	r.parse(&r.slots[1])
	r.parse(&r.slots[2])
	resolveTaken(&r.slots[0].ev, &r.slots[1].ev, &r.stats)
	return r, nil
}

// Valid reports whether the trace source was opened.
func (r *BinaryReader) Valid() bool {
	return r != nil && r.opened
}

// Next returns the next event with its taken flag resolved.
func (r *BinaryReader) Next() Event {
	ev := r.slots[r.cur].ev

	r.cur = r.index(1)
	resolveTaken(&r.slots[r.cur].ev, &r.slots[r.index(1)].ev, &r.stats)
	r.parse(&r.slots[r.index(2)])
	return ev
}

func (r *BinaryReader) index(ahead int) int {
	return (r.cur + ahead) % len(r.slots)
}

// Stats returns the reader counters.
func (r *BinaryReader) Stats() Stats {
	return r.stats
}

// Close releases the decompression stream.
func (r *BinaryReader) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}

func (r *BinaryReader) parse(s *slot) {
	if r.end {
		s.sentinel()
		return
	}

	if _, err := io.ReadFull(r.src, r.buf[:]); err != nil {
		if !errors.Is(err, io.EOF) {
			r.logger.Warn("trace ended mid-record", "path", r.path, "error", err)
		}
		r.finish()
		s.sentinel()
		return
	}

	var rec Record
	if err := rec.Unmarshal(r.buf[:]); err != nil {
		r.logger.Warn("corrupt trace record", "path", r.path, "error", err)
		r.finish()
		s.sentinel()
		return
	}

	substituted := decodeInto(s, &rec, false, r.logger)
	r.stats.count(&s.ev, substituted)
}

func (r *BinaryReader) finish() {
	r.end = true
	if err := r.Close(); err != nil {
		r.logger.Warn("closing trace failed", "path", r.path, "error", err)
	}
	r.logger.Info("end of trace",
		"path", r.path,
		"instructions", r.stats.Instructions,
		"branches", r.stats.Branches,
		"skipped", r.stats.Skipped)
}

var _ Reader = (*BinaryReader)(nil)
