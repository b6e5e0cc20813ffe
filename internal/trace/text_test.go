package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/arch/x86/x86asm"

	"tracefeed/internal/xdec"
)

func TestTextReaderKernelLine(t *testing.T) {
	path := writeTextTrace(t,
		"  ffffffff8a2137c1 ([kernel.kallsyms]) ilen: 1 insn: 5c\n",
		"  ffffffff8a2137c2 ([kernel.kallsyms]) ilen: 1 insn: c3\n",
	)
	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	if !r.Valid() {
		t.Fatal("reader not valid after open")
	}

	ev := r.Next()
	if !ev.Valid {
		t.Fatal("first event is the sentinel")
	}
	if ev.PC != 0xffffffff8a2137c1 {
		t.Errorf("pc = %#x", ev.PC)
	}
	if ev.UnknownType {
		t.Error("pop rsp flagged as unknown")
	}
	if ev.Category != xdec.CatPop {
		t.Errorf("category = %v, want %v", ev.Category, xdec.CatPop)
	}
	if ev.Decoded == nil || ev.Decoded.Inst.Op != x86asm.POP {
		t.Errorf("decoded = %+v", ev.Decoded)
	}
	if ev.Taken {
		t.Error("pop followed by pc+1 marked taken")
	}
	if ev.PID != 0 || ev.TID != 0 {
		t.Errorf("pid/tid = %d/%d, want 0/0", ev.PID, ev.TID)
	}
	if ev.Len != 1 {
		t.Errorf("len = %d", ev.Len)
	}

	ev = r.Next()
	if !ev.Valid || ev.Category != xdec.CatRet {
		t.Fatalf("second event = %+v", ev)
	}
	if !ev.Taken {
		t.Error("last instruction before the end should resolve as taken")
	}

	for i := 0; i < 3; i++ {
		if ev := r.Next(); ev.Valid {
			t.Fatalf("call %d after end returned a valid event", i)
		}
	}
}

func TestTextReaderEmptyTrace(t *testing.T) {
	path := writeTextTrace(t)
	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}

	ev := r.Next()
	if ev.Valid {
		t.Fatalf("empty trace returned %+v", ev)
	}
	if ev != (Event{}) {
		t.Errorf("sentinel is not zeroed: %+v", ev)
	}
	if r.src != nil {
		t.Error("source still open after the end of trace")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close after end = %v", err)
	}
}

func TestTextReaderNopSubstitution(t *testing.T) {
	path := writeTextTrace(t,
		traceLine(0x401000, "a.out", 0x06),
		traceLine(0x401001, "a.out", 0x06, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00),
		traceLine(0x40100d, "a.out", 0x48, 0xcf),
		traceLine(0x40100f, "a.out", 0x90),
	)
	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	ev := r.Next()
	if !ev.UnknownType {
		t.Error("undecodable byte not flagged unknown")
	}
	if ev.Decoded.Inst.Op != x86asm.NOP || ev.Decoded.Len != 1 || ev.Len != 1 {
		t.Errorf("substitute = %v len %d (reported %d)", ev.Decoded.Inst.Op, ev.Decoded.Len, ev.Len)
	}
	if ev.Category != xdec.CatNop {
		t.Errorf("category = %v", ev.Category)
	}
	// the lookahead has already parsed the second line
	if got := r.Stats().Skipped; got != 2 {
		t.Errorf("skipped = %d, want 2", got)
	}

	ev = r.Next()
	if !ev.UnknownType || ev.Decoded.Inst.Op != x86asm.NOP || ev.Decoded.Len != 12 {
		t.Errorf("long substitute = %v len %d unknown %v", ev.Decoded.Inst.Op, ev.Decoded.Len, ev.UnknownType)
	}

	ev = r.Next()
	if ev.UnknownType {
		t.Error("iretq decodes and must not be flagged unknown")
	}
	if ev.Decoded.Inst.Op != x86asm.NOP || ev.Decoded.Len != 2 {
		t.Errorf("iretq replaced by %v len %d", ev.Decoded.Inst.Op, ev.Decoded.Len)
	}

	ev = r.Next()
	if ev.UnknownType || ev.Category != xdec.CatNop {
		t.Errorf("plain nop = %+v", ev)
	}

	if got := r.Stats().Skipped; got != 3 {
		t.Errorf("skipped = %d, want 3", got)
	}
}

func TestTextReaderSkipIncrementsByOne(t *testing.T) {
	path := writeTextTrace(t,
		traceLine(0x401000, "a.out", 0x90),
		traceLine(0x401001, "a.out", 0x90),
		traceLine(0x401002, "a.out", 0x06),
		traceLine(0x401003, "a.out", 0x90),
	)
	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	r.Next()
	before := r.Stats().Skipped
	r.Next() // parses the undecodable third line
	if after := r.Stats().Skipped; after != before+1 {
		t.Errorf("skipped went from %d to %d", before, after)
	}
}

func TestTextReaderSkipLimit(t *testing.T) {
	captureFatal(t)

	var lines []string
	for i := 0; i < 6; i++ {
		lines = append(lines, traceLine(0x401000+uint64(i), "a.out", 0x06))
	}
	path := writeTextTrace(t, lines...)

	var r *TextReader
	returned := 0
	msg := runUntilFatal(func() {
		var err error
		r, err = OpenText(path, WithLogger(quietLogger), WithSkipLimit(3))
		if err != nil {
			t.Fatalf("OpenText failed: %v", err)
		}
		for i := 0; i < 10; i++ {
			r.Next()
			returned++
		}
	})

	if msg != "too many undecodable instructions" {
		t.Fatalf("fatal message = %q", msg)
	}
	if returned != 2 {
		t.Errorf("returned %d events before terminating, want 2", returned)
	}
	if r.src != nil {
		t.Error("source left open on fatal exit")
	}
}

func TestTextReaderDefaultSkipLimit(t *testing.T) {
	captureFatal(t)

	bad := traceLine(0x401000, "a.out", 0x06)
	build := func(n int) string {
		return writeTextTrace(t, strings.Repeat(bad, n))
	}

	// exactly at the limit: tolerated
	r, err := OpenText(build(DefaultSkipLimit), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	msg := runUntilFatal(func() { drain(t, r, DefaultSkipLimit+1) })
	if msg != "" {
		t.Fatalf("trace with %d bad instructions terminated: %s", DefaultSkipLimit, msg)
	}

	// one over: terminates before the last parsed event is returned
	r, err = OpenText(build(DefaultSkipLimit+1), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	returned := 0
	msg = runUntilFatal(func() {
		for {
			r.Next()
			returned++
		}
	})
	if msg == "" {
		t.Fatal("expected termination")
	}
	if returned != DefaultSkipLimit-1 {
		t.Errorf("returned %d events, want %d", returned, DefaultSkipLimit-1)
	}
}

func TestTextReaderMalformedLineIsFatal(t *testing.T) {
	captureFatal(t)
	path := writeTextTrace(t,
		traceLine(0x401000, "a.out", 0x90),
		"  401001 a.out ilen: 1 insn: 90\n",
	)

	msg := runUntilFatal(func() {
		r, err := OpenText(path, WithLogger(quietLogger))
		if err != nil {
			t.Fatalf("OpenText failed: %v", err)
		}
		r.Next()
	})
	if msg != "unparsable trace line" {
		t.Errorf("fatal message = %q", msg)
	}
}

// The fallthrough check compares against PC+1, not PC+Len, so a multi-byte
// instruction that falls through is still reported as taken.
func TestTakenComparesAgainstPCPlusOne(t *testing.T) {
	path := writeTextTrace(t,
		traceLine(0x1000, "a.out", 0x90),
		traceLine(0x1001, "a.out", 0x66, 0x90),
		traceLine(0x1003, "a.out", 0x74, 0x10),
		traceLine(0x1015, "a.out", 0x90),
		traceLine(0x1016, "a.out", 0x90),
	)
	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	var taken []bool
	for _, ev := range drain(t, r, 10) {
		if ev.Valid {
			taken = append(taken, ev.Taken)
		}
	}
	want := []bool{false, true, true, false, true}
	if diff := cmp.Diff(want, taken); diff != "" {
		t.Errorf("taken flags mismatch (-want +got):\n%s", diff)
	}
	if got := r.Stats(); got.Branches != 1 || got.Taken != 1 {
		t.Errorf("stats = %+v, want 1 branch taken once", got)
	}
}

func TestTextReaderBranchTarget(t *testing.T) {
	path := writeTextTrace(t,
		traceLine(0x401000, "a.out", 0x74, 0x10),
		traceLine(0x401012, "a.out", 0x48, 0x89, 0x07),
		traceLine(0x401015, "a.out", 0xe8, 0x00, 0x01, 0x00, 0x00),
	)
	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	ev := r.Next()
	if ev.Category != xdec.CatCondBr || ev.Target != 0x401010 {
		t.Errorf("je: category %v target %#x", ev.Category, ev.Target)
	}

	ev = r.Next()
	if ev.MemUsed != [2]bool{true, false} {
		t.Errorf("store mem usage = %v", ev.MemUsed)
	}
	if ev.MemAddr != [2]uint64{} {
		t.Errorf("mem addresses = %v, want zero", ev.MemAddr)
	}

	ev = r.Next()
	if ev.Category != xdec.CatCall || ev.Target != 0x401115 {
		t.Errorf("call: category %v target %#x", ev.Category, ev.Target)
	}
	if !ev.MemUsed[0] {
		t.Error("call does not report its stack write")
	}
}

func TestTextReaderBatchRefill(t *testing.T) {
	var lines []string
	for i := 0; i < 11; i++ {
		lines = append(lines, traceLine(0x500000+uint64(i), "a.out", 0x90))
	}
	path := writeTextTrace(t, lines...)

	r, err := OpenText(path, WithLogger(quietLogger), WithCapacity(MinCapacity))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	events := drain(t, r, 20)
	if len(events) != 12 {
		t.Fatalf("got %d events, want 11 and a sentinel", len(events))
	}
	for i, ev := range events[:11] {
		if ev.PC != 0x500000+uint64(i) {
			t.Errorf("event %d pc = %#x", i, ev.PC)
		}
	}
}

func TestTextReaderLongLineAndPlainText(t *testing.T) {
	long := strings.TrimSuffix(traceLine(0x401000, "a.out", 0x90), "\n") + strings.Repeat(" ", 400) + "\n"
	data := long + traceLine(0x401001, "a.out", 0xc3)

	path := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenText(path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("OpenText failed: %v", err)
	}
	defer r.Close()

	events := drain(t, r, 5)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 2 and a sentinel", len(events))
	}
	if events[0].PC != 0x401000 || events[1].PC != 0x401001 {
		t.Errorf("pcs = %#x, %#x", events[0].PC, events[1].PC)
	}
}

func TestTextReaderDeterminism(t *testing.T) {
	var lines []string
	pc := uint64(0x400000)
	codes := [][]byte{{0x55}, {0x48, 0x89, 0xe5}, {0x74, 0x02}, {0x06}, {0x5d}, {0xc3}}
	for i := 0; i < 40; i++ {
		code := codes[i%len(codes)]
		lines = append(lines, traceLine(pc, "a.out", code...))
		pc += uint64(len(code))
	}
	path := writeTextTrace(t, lines...)

	read := func() []Event {
		r, err := OpenText(path, WithLogger(quietLogger), WithCapacity(8))
		if err != nil {
			t.Fatalf("OpenText failed: %v", err)
		}
		defer r.Close()
		events := drain(t, r, 100)
		for i := range events {
			events[i].Decoded = nil
		}
		return events
	}

	if diff := cmp.Diff(read(), read()); diff != "" {
		t.Errorf("independent readers disagree (-first +second):\n%s", diff)
	}
}

func TestOpenMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.gz")
	r, err := Open(missing, FormatText, WithLogger(quietLogger))
	if err == nil {
		t.Fatal("Open succeeded on a missing file")
	}
	if r != nil {
		t.Error("Open returned a reader alongside an error")
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("error %q does not name the path", err)
	}

	var tr *TextReader
	if tr.Valid() {
		t.Error("nil text reader reports valid")
	}
}
