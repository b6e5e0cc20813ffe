package trace

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

var quietLogger = log.New(io.Discard)

// fatalExit stands in for process termination in tests.
type fatalExit struct {
	msg string
}

func captureFatal(t *testing.T) {
	t.Helper()
	prev := Fatal
	Fatal = func(_ *log.Logger, msg string, _ ...any) {
		panic(fatalExit{msg: msg})
	}
	t.Cleanup(func() { Fatal = prev })
}

// runUntilFatal calls fn and returns the fatal message, or "" if fn returned.
func runUntilFatal(fn func()) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(fatalExit)
			if !ok {
				panic(r)
			}
			msg = fe.msg
		}
	}()
	fn()
	return ""
}

func traceLine(pc uint64, binary string, code ...byte) string {
	parts := make([]string, len(code))
	for i, b := range code {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return fmt.Sprintf("  %x (%s) ilen: %d insn: %s\n", pc, binary, len(code), strings.Join(parts, " "))
}

func writeGzip(t *testing.T, name string, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTextTrace(t *testing.T, lines ...string) string {
	t.Helper()
	return writeGzip(t, "trace.txt.gz", []byte(strings.Join(lines, "")))
}

func writeBinaryTrace(t *testing.T, recs ...Record) string {
	t.Helper()
	var buf bytes.Buffer
	for i := range recs {
		if err := WriteRecord(&buf, &recs[i]); err != nil {
			t.Fatal(err)
		}
	}
	return writeGzip(t, "trace.trc", buf.Bytes())
}

func record(pc uint64, code ...byte) Record {
	r := Record{PC: pc, Len: uint8(len(code))}
	copy(r.Insn[:], code)
	return r
}

// drain reads events up to and including the first sentinel.
func drain(t *testing.T, r Reader, max int) []Event {
	t.Helper()
	var events []Event
	for i := 0; i < max; i++ {
		ev := r.Next()
		events = append(events, ev)
		if !ev.Valid {
			return events
		}
	}
	t.Fatalf("no end of trace after %d events", max)
	return nil
}
