// Package convert turns text instruction traces into the compact binary
// record format read by trace.BinaryReader.
package convert

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"tracefeed/internal/logging"
	"tracefeed/internal/trace"
)

const (
	DefaultDropBudget = 1000
	DefaultBufferSize = 128 << 10

	// OverflowBinary is the id shared by every binary name seen after the
	// table is full.
	OverflowBinary = 255

	cancelCheckLines = 1024
)

// ErrTooManyMalformed aborts a conversion once the drop budget is spent.
var ErrTooManyMalformed = errors.New("too many malformed lines")

// Options tunes a conversion. Zero values take the defaults.
type Options struct {
	Logger     *log.Logger
	DropBudget int
	BufferSize int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.DropBudget <= 0 {
		o.DropBudget = DefaultDropBudget
	}
	if o.BufferSize < trace.LineSize*2 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// Summary describes a finished (or aborted) conversion.
type Summary struct {
	Lines   uint64
	Records uint64
	Dropped uint64
	// Binaries holds the source binary names indexed by record id.
	Binaries []string
	// Overflowed counts records written with OverflowBinary.
	Overflowed uint64
}

// Convert reads a text trace from in, gzip or plain, and writes gzip
// compressed binary records to out. Malformed lines are logged and dropped.
func Convert(ctx context.Context, in io.Reader, out io.Writer, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	var sum Summary

	lines, err := newLineReader(in, opts.BufferSize)
	if err != nil {
		return sum, err
	}

	bw := bufio.NewWriterSize(out, opts.BufferSize)
	zw := gzip.NewWriter(bw)

	ids := newNameTable()
	var (
		rec trace.Record
		buf [trace.RecordSize]byte
	)
	for {
		line, ok := lines.next()
		if !ok {
			break
		}
		sum.Lines++
		if sum.Lines%cancelCheckLines == 0 {
			if err = ctx.Err(); err != nil {
				break
			}
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		name, perr := trace.ParseLine(line, &rec)
		if perr != nil {
			sum.Dropped++
			opts.Logger.Warn("dropping malformed line", "line", sum.Lines, "error", perr)
			if sum.Dropped >= uint64(opts.DropBudget) {
				err = fmt.Errorf("%w: %d dropped by line %d", ErrTooManyMalformed, sum.Dropped, sum.Lines)
				break
			}
			continue
		}

		rec.Binary = ids.id(name)
		if rec.Binary == OverflowBinary {
			sum.Overflowed++
		}
		rec.MarshalTo(buf[:])
		if _, err = zw.Write(buf[:]); err != nil {
			err = fmt.Errorf("failed to write record: %w", err)
			break
		}
		sum.Records++
	}
	if err == nil {
		err = lines.err
	}
	sum.Binaries = ids.names

	if cerr := zw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finish gzip stream: %w", cerr)
	}
	if ferr := bw.Flush(); err == nil && ferr != nil {
		err = fmt.Errorf("failed to flush output: %w", ferr)
	}

	opts.Logger.Info("conversion finished",
		"lines", sum.Lines,
		"records", sum.Records,
		"dropped", sum.Dropped,
		"binaries", len(sum.Binaries))
	return sum, err
}

// ConvertFile converts inPath into outPath, or DefaultOutputPath(inPath) when
// outPath is empty. A failed conversion removes the partial output.
func ConvertFile(ctx context.Context, inPath, outPath string, opts Options) (string, Summary, error) {
	if outPath == "" {
		outPath = DefaultOutputPath(inPath)
	}
	if filepath.Clean(outPath) == filepath.Clean(inPath) {
		return outPath, Summary{}, fmt.Errorf("output %s would overwrite the input", outPath)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return outPath, Summary{}, fmt.Errorf("failed to open trace: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return outPath, Summary{}, fmt.Errorf("failed to create output: %w", err)
	}

	sum, err := Convert(ctx, in, out, opts)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
	}
	return outPath, sum, err
}

// DefaultOutputPath drops a trailing .gz and replaces the remaining
// extension with .trc.
func DefaultOutputPath(in string) string {
	base := strings.TrimSuffix(in, ".gz")
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".trc"
}

// lineReader yields lines truncated to trace.LineSize.
type lineReader struct {
	r       *bufio.Reader
	err     error
	scratch [trace.LineSize]byte
}

func newLineReader(in io.Reader, size int) (*lineReader, error) {
	raw := bufio.NewReaderSize(in, size)
	magic, _ := raw.Peek(2)
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return &lineReader{r: bufio.NewReaderSize(zr, size)}, nil
	}
	return &lineReader{r: raw}, nil
}

func (lr *lineReader) next() ([]byte, bool) {
	line, err := lr.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		n := copy(lr.scratch[:], line)
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = lr.r.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			lr.err = fmt.Errorf("failed to read trace: %w", err)
			return nil, false
		}
		return lr.scratch[:n], true
	}
	if err != nil && !errors.Is(err, io.EOF) {
		lr.err = fmt.Errorf("failed to read trace: %w", err)
		return nil, false
	}
	if len(line) == 0 {
		return nil, false
	}
	if len(line) > trace.LineSize {
		line = line[:trace.LineSize]
	}
	return line, true
}
