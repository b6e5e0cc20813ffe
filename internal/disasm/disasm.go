// Package disasm renders trace events as a linear instruction listing.
package disasm

import (
	"fmt"
	"strings"

	"tracefeed/internal/trace"
	"tracefeed/internal/xdec"
)

// Inst is one listing line.
type Inst struct {
	VA       uint64 // virtual address of instruction
	Len      uint8
	Text     string // Intel syntax disassembly
	Op       string // mnemonic in lowercase
	Category xdec.Category
	Taken    bool
	Target   uint64
	Mem      [2]bool
	Unknown  bool // bytes did not decode and a nop stands in
	Symbol   string
}

// FromEvent builds a listing line for ev.
func FromEvent(ev trace.Event) Inst {
	inst := Inst{
		VA:       ev.PC,
		Len:      ev.Len,
		Text:     "(bad)",
		Op:       "(bad)",
		Category: ev.Category,
		Taken:    ev.Taken,
		Target:   ev.Target,
		Mem:      ev.MemUsed,
		Unknown:  ev.UnknownType,
	}
	if ev.Decoded != nil && !ev.Decoded.Empty() {
		inst.Text = ev.Decoded.Syntax(ev.PC)
		inst.Op = strings.ToLower(ev.Decoded.Inst.Op.String())
	}
	return inst
}

// Annotation returns the comment printed after the disassembly.
func (i Inst) Annotation() string {
	parts := []string{i.Category.String()}
	if i.Unknown {
		parts = append(parts, "undecodable")
	}
	if i.Taken {
		parts = append(parts, "taken")
	}
	if i.Category.IsBranch() || i.Category == xdec.CatCall {
		parts = append(parts, fmt.Sprintf("-> %#x", i.Target))
	}
	if i.Symbol != "" {
		parts = append(parts, "<"+i.Symbol+">")
	}
	switch {
	case i.Mem[0] && i.Mem[1]:
		parts = append(parts, "mem x2")
	case i.Mem[0] || i.Mem[1]:
		parts = append(parts, "mem")
	}
	return strings.Join(parts, " ")
}

// String formats i as "address  text  ; annotation".
func (i Inst) String() string {
	return fmt.Sprintf("%016x  %-40s ; %s", i.VA, i.Text, i.Annotation())
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// String joins the listing lines.
func (s Stream) String() string {
	var b strings.Builder
	for _, inst := range s {
		b.WriteString(inst.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Symbolizer names code addresses.
type Symbolizer interface {
	Describe(pc uint64) string
}

// Symbolize fills in Symbol for every line that sym can name.
func (s Stream) Symbolize(sym Symbolizer) {
	for i := range s {
		s[i].Symbol = sym.Describe(s[i].VA)
	}
}

// Collect reads up to limit events from r, stopping at the end of trace. A
// limit of zero or less reads the whole trace.
func Collect(r trace.Reader, limit int) Stream {
	var s Stream
	for limit <= 0 || len(s) < limit {
		ev := r.Next()
		if !ev.Valid {
			break
		}
		s = append(s, FromEvent(ev))
	}
	return s
}
