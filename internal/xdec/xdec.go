// Package xdec classifies x86 machine code for trace replay.
// It wraps golang.org/x/arch/x86/x86asm and adds the information a timing
// simulator asks for: an instruction category, the branch displacement and
// the read/write usage of the first two memory operands.
package xdec

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Mode is the processor mode used for decoding, in bits.
type Mode int

const (
	Mode16 Mode = 16
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// MaxInstLen is the architectural limit on x86 instruction length.
const MaxInstLen = 15

// MaxMemOps is the number of memory operands a Result can describe.
// Operands beyond it are dropped.
const MaxMemOps = 2

// Result is the decoded form of one instruction.
type Result struct {
	Inst       x86asm.Inst
	Len        int
	Category   Category
	BranchDisp int64
	NumMemOps  int
	MemRead    [MaxMemOps]bool
	MemWritten [MaxMemOps]bool
}

// Empty reports whether the result carries no instruction at all.
func (r *Result) Empty() bool {
	return r.Inst.Op == 0
}

// IsPrivilegedReturn reports whether the instruction is an interrupt return.
func (r *Result) IsPrivilegedReturn() bool {
	switch r.Inst.Op {
	case x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return true
	}
	return false
}

// MemUsed reports whether memory operand i is read or written.
func (r *Result) MemUsed(i int) bool {
	if i < 0 || i >= MaxMemOps {
		return false
	}
	return r.MemRead[i] || r.MemWritten[i]
}

// Decode decodes src in the given mode into res. On error res is left zeroed
// with CatInvalid.
func Decode(res *Result, pc uint64, src []byte, mode Mode) error {
	Init()
	*res = Result{}

	inst, err := x86asm.Decode(src, int(mode))
	if err != nil {
		return fmt.Errorf("decode at %#x: %w", pc, err)
	}

	info := lookup(inst.Op)
	res.Inst = inst
	res.Len = inst.Len
	res.Category = info.cat

	for i, arg := range inst.Args {
		if arg == nil {
			break
		}
		switch a := arg.(type) {
		case x86asm.Rel:
			res.BranchDisp = int64(a)
		case x86asm.Mem:
			if info.access == accessNone {
				continue
			}
			read, written := info.memAccess(i)
			res.addMemOp(read, written)
		}
	}

	switch info.stack {
	case stackWrite:
		res.addMemOp(false, true)
	case stackRead:
		res.addMemOp(true, false)
	}
	return nil
}

func (r *Result) addMemOp(read, written bool) {
	if r.NumMemOps < MaxMemOps {
		r.MemRead[r.NumMemOps] = read
		r.MemWritten[r.NumMemOps] = written
	}
	r.NumMemOps++
}

// Syntax formats the decoded instruction in Intel syntax.
func (r *Result) Syntax(pc uint64) string {
	if r.Empty() {
		return "(bad)"
	}
	return x86asm.IntelSyntax(r.Inst, pc, nil)
}
