package trace

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

var gzipMagic = []byte{0x1f, 0x8b}

// source is a possibly gzip-compressed trace file behind a buffered reader.
type source struct {
	f  *os.File
	zr *gzip.Reader
	r  *bufio.Reader
}

// openSource opens path for reading. Gzip input is detected by its magic
// number; when requireGzip is set anything else is rejected.
func openSource(path string, bufferSize int, requireGzip bool) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace file not found %s: %w", path, err)
	}

	raw := bufio.NewReaderSize(f, bufferSize)
	magic, _ := raw.Peek(len(gzipMagic))
	if !bytes.Equal(magic, gzipMagic) {
		if requireGzip {
			f.Close()
			return nil, fmt.Errorf("trace file %s is not gzip compressed", path)
		}
		return &source{f: f, r: raw}, nil
	}

	zr, err := gzip.NewReader(raw)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	return &source{f: f, zr: zr, r: bufio.NewReaderSize(zr, bufferSize)}, nil
}

func (s *source) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// readLine copies the next line, newline included, into dst. Lines longer
// than LineSize are truncated and the remainder is discarded. It returns
// false once the stream has no more data.
func (s *source) readLine(dst *rawLine) bool {
	line, err := s.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		dst.set(line)
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = s.r.ReadSlice('\n')
		}
		return true
	}
	if len(line) == 0 {
		return false
	}
	dst.set(line)
	return true
}

func (s *source) Close() error {
	var err error
	if s.zr != nil {
		err = s.zr.Close()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// rawLine is one unparsed text line. end marks the slot after the last line
// of a short batch.
type rawLine struct {
	buf [LineSize]byte
	n   int
	end bool
}

func (l *rawLine) set(b []byte) {
	l.n = copy(l.buf[:], b)
	l.end = false
}

func (l *rawLine) bytes() []byte {
	return l.buf[:l.n]
}

var _ io.ReadCloser = (*source)(nil)
