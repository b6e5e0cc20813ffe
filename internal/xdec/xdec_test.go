package xdec

import (
	"errors"
	"sync"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestDecodeCategories(t *testing.T) {
	tests := []struct {
		name     string
		code     []byte
		op       x86asm.Op
		category Category
		disp     int64
	}{
		{name: "pop rsp", code: []byte{0x5c}, op: x86asm.POP, category: CatPop},
		{name: "ret", code: []byte{0xc3}, op: x86asm.RET, category: CatRet},
		{name: "je rel8", code: []byte{0x74, 0x11}, op: x86asm.JE, category: CatCondBr, disp: 0x11},
		{name: "jmp rel8", code: []byte{0xeb, 0xfe}, op: x86asm.JMP, category: CatUncondBr, disp: -2},
		{name: "call rel32", code: []byte{0xe8, 0x11, 0x22, 0x33, 0x44}, op: x86asm.CALL, category: CatCall, disp: 0x44332211},
		{name: "nop", code: []byte{0x90}, op: x86asm.NOP, category: CatNop},
		{name: "xor eax eax", code: []byte{0x31, 0xc0}, op: x86asm.XOR, category: CatLogical},
		{name: "syscall", code: []byte{0x0f, 0x05}, op: x86asm.SYSCALL, category: CatSyscall},
		{name: "cmove", code: []byte{0x48, 0x0f, 0x44, 0xc1}, op: x86asm.CMOVE, category: CatCmov},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			if err := Decode(&res, 0x1000, tt.code, Mode64); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if res.Inst.Op != tt.op {
				t.Errorf("op = %v, want %v", res.Inst.Op, tt.op)
			}
			if res.Category != tt.category {
				t.Errorf("category = %v, want %v", res.Category, tt.category)
			}
			if res.BranchDisp != tt.disp {
				t.Errorf("branch displacement = %d, want %d", res.BranchDisp, tt.disp)
			}
			if res.Len != len(tt.code) {
				t.Errorf("len = %d, want %d", res.Len, len(tt.code))
			}
		})
	}
}

func TestDecodeMemoryOperands(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		num     int
		read    [MaxMemOps]bool
		written [MaxMemOps]bool
	}{
		{name: "load", code: []byte{0x48, 0x8b, 0x07}, num: 1, read: [2]bool{true, false}},
		{name: "store", code: []byte{0x48, 0x89, 0x07}, num: 1, written: [2]bool{true, false}},
		{name: "read modify write", code: []byte{0x48, 0x01, 0x07}, num: 1, read: [2]bool{true, false}, written: [2]bool{true, false}},
		{name: "compare with memory", code: []byte{0x48, 0x39, 0x07}, num: 1, read: [2]bool{true, false}},
		{name: "lea does not touch memory", code: []byte{0x48, 0x8d, 0x07}, num: 0},
		{name: "push register writes stack", code: []byte{0x50}, num: 1, written: [2]bool{true, false}},
		{name: "pop register reads stack", code: []byte{0x58}, num: 1, read: [2]bool{true, false}},
		{name: "push memory reads operand and writes stack", code: []byte{0xff, 0x37}, num: 2, read: [2]bool{true, false}, written: [2]bool{false, true}},
		{name: "register only", code: []byte{0x48, 0x01, 0xd8}, num: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			if err := Decode(&res, 0x401000, tt.code, Mode64); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if res.NumMemOps != tt.num {
				t.Errorf("memory operands = %d, want %d", res.NumMemOps, tt.num)
			}
			if res.MemRead != tt.read {
				t.Errorf("read flags = %v, want %v", res.MemRead, tt.read)
			}
			if res.MemWritten != tt.written {
				t.Errorf("written flags = %v, want %v", res.MemWritten, tt.written)
			}
		})
	}
}

func TestDecodeFailure(t *testing.T) {
	var res Result
	res.Category = CatCall

	err := Decode(&res, 0x1000, []byte{0x06}, Mode64)
	if err == nil {
		t.Fatal("expected push es to be rejected in 64-bit mode")
	}
	if !errors.Is(err, x86asm.ErrUnrecognized) {
		t.Errorf("error = %v, want ErrUnrecognized", err)
	}
	if res.Category != CatInvalid || !res.Empty() {
		t.Errorf("result not reset after failure: %+v", res)
	}

	if err := Decode(&res, 0x1000, []byte{0x90}, Mode(8)); err == nil {
		t.Error("expected invalid mode to fail")
	}
}

func TestPrivilegedReturn(t *testing.T) {
	var res Result
	if err := Decode(&res, 0, []byte{0x48, 0xcf}, Mode64); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !res.IsPrivilegedReturn() {
		t.Errorf("%v not reported as privileged return", res.Inst.Op)
	}

	if err := Decode(&res, 0, []byte{0xc3}, Mode64); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if res.IsPrivilegedReturn() {
		t.Error("ret reported as privileged return")
	}
}

func TestNopEncodings(t *testing.T) {
	for n := 1; n <= MaxInstLen; n++ {
		var code []byte
		if n <= MaxShortNop {
			buf := make([]byte, MaxShortNop)
			w, err := EncodeNop(buf, n)
			if err != nil {
				t.Fatalf("EncodeNop(%d): %v", n, err)
			}
			code = buf[:w]
		} else {
			tail, err := LongNopTail(n)
			if err != nil {
				t.Fatalf("LongNopTail(%d): %v", n, err)
			}
			code = tail
		}

		var res Result
		if err := Decode(&res, 0, code, Mode64); err != nil {
			t.Fatalf("nop of length %d does not decode: %v", n, err)
		}
		if res.Inst.Op != x86asm.NOP {
			t.Errorf("length %d decoded as %v", n, res.Inst.Op)
		}
		if res.Len != n {
			t.Errorf("length %d decoded with length %d", n, res.Len)
		}
		if res.NumMemOps != 0 {
			t.Errorf("length %d nop reports %d memory operands", n, res.NumMemOps)
		}
	}

	if _, err := EncodeNop(make([]byte, 16), 10); err == nil {
		t.Error("EncodeNop accepted length 10")
	}
	if _, err := EncodeNop(make([]byte, 2), 3); err == nil {
		t.Error("EncodeNop accepted a short buffer")
	}
	if _, err := LongNopTail(9); err == nil {
		t.Error("LongNopTail accepted length 9")
	}
}

func TestInitOnce(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Init()
		}()
	}
	wg.Wait()

	if tableBuilds != 1 {
		t.Errorf("table built %d times, want 1", tableBuilds)
	}
	if len(opTable) == 0 {
		t.Fatal("opcode table is empty")
	}
	if got := lookup(x86asm.IRETQ).cat; got != CatRet {
		t.Errorf("IRETQ category = %v, want %v", got, CatRet)
	}
}

func TestCategoryString(t *testing.T) {
	if CatCondBr.String() != "COND_BR" {
		t.Errorf("CatCondBr = %q", CatCondBr.String())
	}
	if Category(200).String() != "UNKNOWN" {
		t.Errorf("out of range category = %q", Category(200).String())
	}
	if !CatUncondBr.IsBranch() || CatCall.IsBranch() {
		t.Error("IsBranch misclassifies")
	}
}
