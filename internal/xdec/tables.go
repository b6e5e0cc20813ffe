package xdec

import (
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/arch/x86/x86asm"
)

// Category is a coarse instruction class.
type Category uint8

const (
	CatInvalid Category = iota
	CatNop
	CatCondBr
	CatUncondBr
	CatCall
	CatRet
	CatSyscall
	CatInterrupt
	CatPush
	CatPop
	CatDataXfer
	CatCmov
	CatBinary
	CatLogical
	CatShift
	CatRotate
	CatBitbyte
	CatString
	CatFlagop
	CatSemaphore
	CatSSE
	CatAVX
	CatX87
	CatMMX
	CatSystem
	CatPrefetch
	CatMisc
)

var categoryNames = [...]string{
	CatInvalid:   "INVALID",
	CatNop:       "NOP",
	CatCondBr:    "COND_BR",
	CatUncondBr:  "UNCOND_BR",
	CatCall:      "CALL",
	CatRet:       "RET",
	CatSyscall:   "SYSCALL",
	CatInterrupt: "INTERRUPT",
	CatPush:      "PUSH",
	CatPop:       "POP",
	CatDataXfer:  "DATAXFER",
	CatCmov:      "CMOV",
	CatBinary:    "BINARY",
	CatLogical:   "LOGICAL",
	CatShift:     "SHIFT",
	CatRotate:    "ROTATE",
	CatBitbyte:   "BITBYTE",
	CatString:    "STRINGOP",
	CatFlagop:    "FLAGOP",
	CatSemaphore: "SEMAPHORE",
	CatSSE:       "SSE",
	CatAVX:       "AVX",
	CatX87:       "X87_ALU",
	CatMMX:       "MMX",
	CatSystem:    "SYSTEM",
	CatPrefetch:  "PREFETCH",
	CatMisc:      "MISC",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "UNKNOWN"
}

// IsBranch reports whether c is a conditional or unconditional jump.
func (c Category) IsBranch() bool {
	return c == CatCondBr || c == CatUncondBr
}

// IsControlFlow reports whether c can redirect the instruction stream.
func (c Category) IsControlFlow() bool {
	switch c {
	case CatCondBr, CatUncondBr, CatCall, CatRet, CatSyscall, CatInterrupt:
		return true
	}
	return false
}

// access describes how the first explicit operand touches memory when it is
// a memory reference. Later explicit memory operands are always sources.
type access uint8

const (
	accessReadWrite access = iota
	accessNone
	accessWrite
	accessRead
)

type stackUse uint8

const (
	stackNone stackUse = iota
	stackRead
	stackWrite
)

type opInfo struct {
	cat    Category
	access access
	stack  stackUse
}

func (o opInfo) memAccess(arg int) (read, written bool) {
	if arg > 0 {
		return true, false
	}
	switch o.access {
	case accessWrite:
		return false, true
	case accessRead:
		return true, false
	case accessNone:
		return false, false
	}
	return true, true
}

// maxOp bounds the scan for opcode names in x86asm, which does not export
// its table size.
const maxOp = 4096

var (
	tableMu   sync.Mutex
	tableDone atomic.Bool
	opTable   []opInfo

	// tableBuilds counts table constructions; it never exceeds one.
	tableBuilds int
)

// Init builds the opcode classification table. It runs once per process and
// is safe to call from any number of goroutines.
func Init() {
	if tableDone.Load() {
		return
	}
	tableMu.Lock()
	defer tableMu.Unlock()
	if tableDone.Load() {
		return
	}
	opTable = buildTable()
	tableBuilds++
	tableDone.Store(true)
}

func lookup(op x86asm.Op) opInfo {
	if int(op) < len(opTable) {
		return opTable[op]
	}
	return opInfo{cat: CatMisc}
}

var explicitCategories = map[Category][]x86asm.Op{
	CatNop: {x86asm.NOP, x86asm.FNOP},
	CatCondBr: {
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE,
		x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
		x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ,
		x86asm.JS, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE, x86asm.XBEGIN,
	},
	CatUncondBr: {x86asm.JMP, x86asm.LJMP},
	CatCall:     {x86asm.CALL, x86asm.LCALL},
	CatRet:      {x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ},
	CatSyscall:  {x86asm.SYSCALL, x86asm.SYSENTER, x86asm.SYSEXIT, x86asm.SYSRET},
	CatInterrupt: {
		x86asm.INT, x86asm.INTO, x86asm.ICEBP, x86asm.UD0, x86asm.UD1, x86asm.UD2,
	},
	CatPush: {
		x86asm.PUSH, x86asm.PUSHA, x86asm.PUSHAD, x86asm.PUSHF, x86asm.PUSHFD,
		x86asm.PUSHFQ,
	},
	CatPop: {
		x86asm.POP, x86asm.POPA, x86asm.POPAD, x86asm.POPF, x86asm.POPFD,
		x86asm.POPFQ,
	},
	CatDataXfer: {
		x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD, x86asm.MOVBE,
		x86asm.XCHG, x86asm.BSWAP, x86asm.MOVNTI, x86asm.CBW, x86asm.CWDE,
		x86asm.CDQE, x86asm.CWD, x86asm.CDQ, x86asm.CQO, x86asm.LEA,
		x86asm.XLATB, x86asm.ENTER, x86asm.LEAVE,
	},
	CatBinary: {
		x86asm.ADD, x86asm.ADC, x86asm.SUB, x86asm.SBB, x86asm.CMP, x86asm.INC,
		x86asm.DEC, x86asm.NEG, x86asm.MUL, x86asm.IMUL, x86asm.DIV, x86asm.IDIV,
		x86asm.DAA, x86asm.DAS, x86asm.AAA, x86asm.AAS, x86asm.AAM, x86asm.AAD,
	},
	CatLogical: {x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.NOT, x86asm.TEST},
	CatShift:   {x86asm.SHL, x86asm.SHR, x86asm.SAR, x86asm.SHLD, x86asm.SHRD},
	CatRotate:  {x86asm.ROL, x86asm.ROR, x86asm.RCL, x86asm.RCR},
	CatBitbyte: {
		x86asm.BT, x86asm.BTC, x86asm.BTR, x86asm.BTS, x86asm.BSF, x86asm.BSR,
		x86asm.POPCNT, x86asm.LZCNT, x86asm.TZCNT,
	},
	CatString: {
		x86asm.MOVSB, x86asm.MOVSW, x86asm.MOVSD, x86asm.MOVSQ,
		x86asm.STOSB, x86asm.STOSW, x86asm.STOSD, x86asm.STOSQ,
		x86asm.LODSB, x86asm.LODSW, x86asm.LODSD, x86asm.LODSQ,
		x86asm.SCASB, x86asm.SCASW, x86asm.SCASD, x86asm.SCASQ,
		x86asm.CMPSB, x86asm.CMPSW, x86asm.CMPSD, x86asm.CMPSQ,
		x86asm.INSB, x86asm.INSW, x86asm.INSD,
		x86asm.OUTSB, x86asm.OUTSW, x86asm.OUTSD,
	},
	CatFlagop: {
		x86asm.CLC, x86asm.STC, x86asm.CMC, x86asm.CLD, x86asm.STD,
		x86asm.LAHF, x86asm.SAHF, x86asm.CLI, x86asm.STI,
	},
	CatSemaphore: {
		x86asm.CMPXCHG, x86asm.CMPXCHG8B, x86asm.CMPXCHG16B, x86asm.XADD,
	},
	CatSystem: {
		x86asm.HLT, x86asm.CPUID, x86asm.RDTSC, x86asm.RDTSCP, x86asm.RDMSR,
		x86asm.WRMSR, x86asm.RDPMC, x86asm.LGDT, x86asm.LIDT, x86asm.LLDT,
		x86asm.LTR, x86asm.SGDT, x86asm.SIDT, x86asm.SLDT, x86asm.STR,
		x86asm.SWAPGS, x86asm.INVD, x86asm.WBINVD, x86asm.INVLPG,
		x86asm.INVPCID, x86asm.CLTS, x86asm.LMSW, x86asm.SMSW, x86asm.MONITOR,
		x86asm.MWAIT, x86asm.XGETBV, x86asm.XSETBV, x86asm.RSM, x86asm.LAR,
		x86asm.LSL, x86asm.VERR, x86asm.VERW, x86asm.ARPL, x86asm.IN,
		x86asm.OUT, x86asm.RDFSBASE, x86asm.RDGSBASE, x86asm.WRFSBASE,
		x86asm.WRGSBASE,
	},
	CatPrefetch: {
		x86asm.PREFETCHNTA, x86asm.PREFETCHT0, x86asm.PREFETCHT1,
		x86asm.PREFETCHT2, x86asm.PREFETCHW,
	},
	CatMisc: {
		x86asm.PAUSE, x86asm.LFENCE, x86asm.SFENCE, x86asm.MFENCE,
		x86asm.CLFLUSH, x86asm.RDRAND, x86asm.CRC32, x86asm.BOUND,
	},
}

// Memory behaviour of the first explicit operand. Anything not listed reads
// and writes it.
var (
	noMemOps = []x86asm.Op{x86asm.LEA, x86asm.NOP}

	storeOps = []x86asm.Op{
		x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD, x86asm.MOVBE,
		x86asm.MOVD, x86asm.MOVQ, x86asm.MOVNTI, x86asm.MOVAPS, x86asm.MOVAPD,
		x86asm.MOVUPS, x86asm.MOVUPD, x86asm.MOVDQA, x86asm.MOVDQU,
		x86asm.MOVSS, x86asm.MOVSD_XMM, x86asm.MOVLPS, x86asm.MOVHPS,
		x86asm.MOVLPD, x86asm.MOVHPD, x86asm.MOVNTDQ, x86asm.MOVNTPS,
		x86asm.MOVNTPD, x86asm.MOVNTQ, x86asm.MOVNTSD, x86asm.MOVNTSS,
		x86asm.VMOVDQA, x86asm.VMOVDQU, x86asm.VMOVNTDQ,
		x86asm.MOVSB, x86asm.MOVSW, x86asm.MOVSD, x86asm.MOVSQ,
		x86asm.STOSB, x86asm.STOSW, x86asm.STOSD, x86asm.STOSQ,
		x86asm.INSB, x86asm.INSW, x86asm.INSD,
		x86asm.SETA, x86asm.SETAE, x86asm.SETB, x86asm.SETBE, x86asm.SETE,
		x86asm.SETG, x86asm.SETGE, x86asm.SETL, x86asm.SETLE, x86asm.SETNE,
		x86asm.SETNO, x86asm.SETNP, x86asm.SETNS, x86asm.SETO, x86asm.SETP,
		x86asm.SETS, x86asm.STMXCSR, x86asm.FST, x86asm.FSTP, x86asm.FIST,
		x86asm.FISTP, x86asm.FISTTP, x86asm.FNSTCW, x86asm.FNSTSW,
		x86asm.FNSAVE, x86asm.FNSTENV, x86asm.FBSTP, x86asm.SGDT, x86asm.SIDT,
		x86asm.SLDT, x86asm.SMSW, x86asm.STR, x86asm.PEXTRB, x86asm.PEXTRW,
		x86asm.PEXTRD, x86asm.PEXTRQ, x86asm.EXTRACTPS, x86asm.FXSAVE,
		x86asm.FXSAVE64, x86asm.XSAVE, x86asm.XSAVE64, x86asm.XSAVEC,
		x86asm.XSAVEC64, x86asm.XSAVEOPT, x86asm.XSAVEOPT64, x86asm.XSAVES,
		x86asm.XSAVES64, x86asm.POP,
	}

	loadOps = []x86asm.Op{
		x86asm.CMP, x86asm.TEST, x86asm.BT, x86asm.PUSH, x86asm.JMP,
		x86asm.CALL, x86asm.LJMP, x86asm.LCALL, x86asm.CMPSB, x86asm.CMPSW,
		x86asm.CMPSD, x86asm.CMPSQ, x86asm.OUTSB, x86asm.OUTSW, x86asm.OUTSD,
		x86asm.FLD, x86asm.FILD, x86asm.FBLD, x86asm.FCOM, x86asm.FCOMP,
		x86asm.FICOM, x86asm.FICOMP, x86asm.FLDCW, x86asm.FLDENV,
		x86asm.FRSTOR, x86asm.FXRSTOR, x86asm.FXRSTOR64, x86asm.XRSTOR,
		x86asm.XRSTOR64, x86asm.XRSTORS, x86asm.XRSTORS64, x86asm.LDMXCSR,
		x86asm.LGDT, x86asm.LIDT, x86asm.LLDT, x86asm.LMSW, x86asm.LTR,
		x86asm.VERR, x86asm.VERW, x86asm.INVLPG, x86asm.CLFLUSH,
		x86asm.PREFETCHNTA, x86asm.PREFETCHT0, x86asm.PREFETCHT1,
		x86asm.PREFETCHT2, x86asm.PREFETCHW, x86asm.COMISS, x86asm.COMISD,
		x86asm.UCOMISS, x86asm.UCOMISD, x86asm.PTEST, x86asm.MOVNTDQA,
		x86asm.VMOVNTDQA, x86asm.LDDQU,
	}

	stackWriters = []x86asm.Op{
		x86asm.PUSH, x86asm.PUSHA, x86asm.PUSHAD, x86asm.PUSHF, x86asm.PUSHFD,
		x86asm.PUSHFQ, x86asm.CALL, x86asm.LCALL, x86asm.ENTER,
	}

	stackReaders = []x86asm.Op{
		x86asm.POP, x86asm.POPA, x86asm.POPAD, x86asm.POPF, x86asm.POPFD,
		x86asm.POPFQ, x86asm.RET, x86asm.LRET, x86asm.LEAVE, x86asm.IRET,
		x86asm.IRETD, x86asm.IRETQ,
	}
)

func buildTable() []opInfo {
	n := 1
	for n < maxOp && !strings.HasPrefix(x86asm.Op(n).String(), "Op(") {
		n++
	}

	table := make([]opInfo, n)
	for op := 1; op < n; op++ {
		table[op] = opInfo{cat: categoryByName(x86asm.Op(op).String())}
	}

	for cat, ops := range explicitCategories {
		for _, op := range ops {
			table[op].cat = cat
		}
	}
	for _, op := range noMemOps {
		table[op].access = accessNone
	}
	for _, op := range storeOps {
		table[op].access = accessWrite
	}
	for _, op := range loadOps {
		table[op].access = accessRead
	}
	for _, op := range stackWriters {
		table[op].stack = stackWrite
	}
	for _, op := range stackReaders {
		table[op].stack = stackRead
	}
	return table
}

var mmxOps = map[string]bool{
	"EMMS": true, "MOVQ2DQ": true, "MOVDQ2Q": true, "MASKMOVQ": true,
	"PSHUFW": true, "MOVNTQ": true,
}

// categoryByName is the fallback for opcodes with no explicit category.
func categoryByName(name string) Category {
	switch {
	case strings.HasPrefix(name, "CMOV"):
		return CatCmov
	case strings.HasPrefix(name, "SET"):
		return CatBitbyte
	case mmxOps[name]:
		return CatMMX
	case strings.HasPrefix(name, "V"):
		return CatAVX
	case strings.HasPrefix(name, "F"):
		return CatX87
	case strings.HasPrefix(name, "P"),
		strings.HasPrefix(name, "CVT"),
		strings.HasPrefix(name, "AES"),
		strings.HasPrefix(name, "MOV"),
		strings.HasSuffix(name, "PS"),
		strings.HasSuffix(name, "PD"),
		strings.HasSuffix(name, "SS"),
		strings.HasSuffix(name, "SD"),
		strings.HasSuffix(name, "_XMM"):
		return CatSSE
	case strings.HasPrefix(name, "XSAVE"), strings.HasPrefix(name, "XRSTOR"):
		return CatSystem
	}
	return CatMisc
}
