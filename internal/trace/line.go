package trace

import (
	"errors"
	"fmt"

	"tracefeed/internal/xdec"
)

// LineSize is the longest text line considered; longer lines are truncated.
const LineSize = 256

// ErrMalformed reports a text line that does not follow the trace grammar.
var ErrMalformed = errors.New("malformed trace line")

const (
	pidPrefixLen = 5 // "[000]"
	tokenSkip    = 6 // " ilen:" and " insn:"
)

// ParseLine scans one text trace line of the form
//
//	[ppp]  ffffffff8a2137c1 ([kernel.kallsyms]) ilen: 1 insn: 5c
//
// into rec. The bracketed pid prefix is optional. Fields are located by
// fixed positions rather than tokenized. The returned name aliases line.
func ParseLine(line []byte, rec *Record) (name []byte, err error) {
	*rec = Record{}
	end := len(line)
	for end > 0 && (line[end-1] == '\n' || line[end-1] == '\r') {
		end--
	}
	line = line[:end]

	i := skipSpaces(line, 0)
	if i >= end {
		return nil, malformed("blank line")
	}
	if line[i] == '[' {
		i = skipSpaces(line, i+pidPrefixLen)
	}

	pc, i, ok := parseUint(line, i, 16)
	if !ok || pc == 0 {
		return nil, malformed("missing program counter")
	}
	rec.PC = pc

	i++
	if i >= end || line[i] != '(' {
		return nil, malformed("missing binary name")
	}
	start := i + 1
	for i < end && line[i] != ')' {
		i++
	}
	if i >= end {
		return nil, malformed("unterminated binary name")
	}
	name = line[start:i]

	i++
	if i >= end || line[i] != ' ' {
		return nil, malformed("missing ilen field")
	}
	i += tokenSkip
	if i >= end || line[i] != ' ' {
		return nil, malformed("missing ilen value")
	}
	n, i, ok := parseUint(line, i, 10)
	if !ok || n == 0 || n > xdec.MaxInstLen {
		return nil, malformed("instruction length out of range")
	}
	rec.Len = uint8(n)

	i += tokenSkip
	if i >= end || line[i] != ' ' {
		return nil, malformed("missing insn field")
	}
	for k := 0; k < int(n); k++ {
		var b uint64
		b, i, ok = parseUint(line, i, 16)
		if !ok || b > 0xff {
			return nil, malformed(fmt.Sprintf("bad instruction byte %d", k))
		}
		rec.Insn[k] = byte(b)
	}
	return name, nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, reason)
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && line[i] == ' ' {
		i++
	}
	return i
}

// parseUint reads an unsigned number starting at i after optional blanks,
// accepting a 0x prefix in base 16. It returns the index just past the
// number and false when no digit was found or the value overflows.
func parseUint(line []byte, i, base int) (uint64, int, bool) {
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	if base == 16 && i+1 < len(line) && line[i] == '0' && (line[i+1] == 'x' || line[i+1] == 'X') &&
		i+2 < len(line) && digitValue(line[i+2]) < 16 {
		i += 2
	}

	var v uint64
	start := i
	for ; i < len(line); i++ {
		d := digitValue(line[i])
		if d >= base {
			break
		}
		if v > (^uint64(0)-uint64(d))/uint64(base) {
			return 0, i, false
		}
		v = v*uint64(base) + uint64(d)
	}
	return v, i, i > start
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 99
}
