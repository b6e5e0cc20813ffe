// Package trace replays captured x86 instruction traces as a stream of
// decoded events for a simulator front end.
//
// Two on-disk encodings are supported: the line-oriented text produced by
// perf-style tracers (usually gzip compressed) and a fixed-size binary record
// stream produced by the convert tool. Both readers decode every instruction,
// substitute NOPs for undecodable ones and resolve whether each instruction
// redirected control flow by looking one instruction ahead.
package trace

import (
	"fmt"
	"path/filepath"
	"strings"

	"tracefeed/internal/xdec"
)

// CustomOp tags events that do not correspond to an x86 instruction.
type CustomOp uint8

const (
	CustomNone CustomOp = iota
	CustomPrefetchCode
	CustomPrefetchBlock
)

func (c CustomOp) String() string {
	switch c {
	case CustomNone:
		return "none"
	case CustomPrefetchCode:
		return "prefetch-code"
	case CustomPrefetchBlock:
		return "prefetch-block"
	}
	return fmt.Sprintf("CustomOp(%d)", uint8(c))
}

// Event is one replayed instruction.
type Event struct {
	PC      uint64       // instruction address
	Decoded *xdec.Result // decode result, owned by the reader
	PID     uint64       // process ID, not recorded in traces
	TID     uint64       // thread ID, not recorded in traces
	Target  uint64       // branch target, meaningful for branches only
	MemAddr [xdec.MaxMemOps]uint64
	MemUsed [xdec.MaxMemOps]bool
	Custom  CustomOp
	Taken   bool // the next event does not follow PC+1
	// UnknownType is set when the recorded bytes failed to decode and
	// Decoded describes a substituted NOP.
	UnknownType bool
	Valid       bool // false only for the end-of-trace sentinel
	Category    xdec.Category
	Len         uint8 // length reported by the trace
}

// Stats counts what a reader has parsed so far.
type Stats struct {
	Instructions uint64
	Branches     uint64
	Taken        uint64
	Skipped      uint64
}

// Format selects a reader variant.
type Format int

const (
	FormatAuto Format = iota
	FormatText
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "text", "txt":
		return FormatText, nil
	case "binary", "bin", "trc":
		return FormatBinary, nil
	}
	return FormatAuto, fmt.Errorf("unknown trace format %q", s)
}

// FormatFromPath guesses the format from the file extension. Binary traces
// end in .trc or .bin, optionally followed by .gz.
func FormatFromPath(path string) Format {
	name := strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".gz")
	switch filepath.Ext(name) {
	case ".trc", ".bin":
		return FormatBinary
	}
	return FormatText
}
