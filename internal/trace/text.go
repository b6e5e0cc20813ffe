package trace

import (
	"github.com/charmbracelet/log"

	"tracefeed/internal/xdec"
)

// TextReader replays a text trace. Raw lines are read in batches of the pool
// capacity; each Next parses one line ahead of the event it returns.
type TextReader struct {
	path      string
	logger    *log.Logger
	src       *source
	skipLimit uint64

	lines    []rawLine
	nextLine int
	endLine  rawLine

	slots []slot
	cur   int
	next  int

	stats  Stats
	opened bool
	end    bool
}

// OpenText opens a gzip-compressed (or plain) text trace.
func OpenText(path string, opts ...Option) (*TextReader, error) {
	o := newOptions(DefaultTextCapacity, DefaultTextBuffer, opts)

	src, err := openSource(path, o.bufferSize, false)
	if err != nil {
		return nil, err
	}
	xdec.Init()

	r := &TextReader{
		path:      path,
		logger:    o.logger,
		src:       src,
		skipLimit: o.skipLimit,
		lines:     make([]rawLine, o.capacity),
		nextLine:  o.capacity,
		endLine:   rawLine{end: true},
		slots:     make([]slot, o.capacity),
		next:      1,
		opened:    true,
	}
	r.logger.Debug("opened text trace", "path", path, "capacity", o.capacity)

	r.parse(r.nextRawLine(), &r.slots[r.cur])
	return r, nil
}

// Valid reports whether the trace source was opened.
func (r *TextReader) Valid() bool {
	return r != nil && r.opened
}

// Next returns the next event with its taken flag resolved.
func (r *TextReader) Next() Event {
	nextSlot := &r.slots[r.next]
	r.parse(r.nextRawLine(), nextSlot)

	cur := &r.slots[r.cur]
	resolveTaken(&cur.ev, &nextSlot.ev, &r.stats)
	ev := cur.ev

	r.cur = r.next
	r.next++
	if r.next == len(r.slots) {
		r.next = 0
	}
	return ev
}

// Stats returns the reader counters.
func (r *TextReader) Stats() Stats {
	return r.stats
}

// Close releases the decompression stream.
func (r *TextReader) Close() error {
	return r.closeSource()
}

func (r *TextReader) closeSource() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}

// fill reads up to a full batch of lines. A short batch is terminated by an
// end marker and closes the source.
func (r *TextReader) fill() {
	count := 0
	for count < len(r.lines) && r.src.readLine(&r.lines[count]) {
		count++
	}
	if count != len(r.lines) {
		r.lines[count].end = true
		if err := r.closeSource(); err != nil {
			r.logger.Warn("closing trace failed", "path", r.path, "error", err)
		}
	}
	r.nextLine = 0
}

func (r *TextReader) nextRawLine() *rawLine {
	if r.nextLine == len(r.lines) {
		if r.src == nil {
			return &r.endLine
		}
		r.fill()
	}
	line := &r.lines[r.nextLine]
	r.nextLine++
	return line
}

func (r *TextReader) parse(line *rawLine, s *slot) {
	if r.end || line.end {
		r.finish()
		s.sentinel()
		return
	}

	var rec Record
	if _, err := ParseLine(line.bytes(), &rec); err != nil {
		s.sentinel()
		r.fail("unparsable trace line", "path", r.path, "line", string(line.bytes()), "error", err)
		return
	}

	substituted := decodeInto(s, &rec, true, r.logger)
	r.stats.count(&s.ev, substituted)
	if substituted && r.stats.Skipped > r.skipLimit {
		r.fail("too many undecodable instructions", "path", r.path, "skipped", r.stats.Skipped, "limit", r.skipLimit)
	}
}

func (r *TextReader) finish() {
	if r.end {
		return
	}
	r.end = true
	if err := r.closeSource(); err != nil {
		r.logger.Warn("closing trace failed", "path", r.path, "error", err)
	}
	r.logger.Info("end of trace",
		"path", r.path,
		"instructions", r.stats.Instructions,
		"branches", r.stats.Branches,
		"skipped", r.stats.Skipped)
}

func (r *TextReader) fail(msg string, keyvals ...any) {
	r.end = true
	r.closeSource()
	Fatal(r.logger, msg, keyvals...)
}

var _ Reader = (*TextReader)(nil)
