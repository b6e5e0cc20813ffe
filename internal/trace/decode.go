package trace

import (
	"fmt"

	"github.com/charmbracelet/log"

	"tracefeed/internal/xdec"
)

// slot pairs an event with the decode result it points at.
type slot struct {
	ev  Event
	dec xdec.Result
}

// sentinel resets s to the end-of-trace event.
func (s *slot) sentinel() {
	s.ev = Event{}
}

// decodeInto fills s from rec. Bytes that fail to decode, decode to nothing,
// or (when rejectIRet is set) decode to an interrupt return are replaced by a
// NOP of the recorded length. It reports whether a NOP was substituted.
func decodeInto(s *slot, rec *Record, rejectIRet bool, logger *log.Logger) bool {
	s.ev = Event{
		PC:      rec.PC,
		Decoded: &s.dec,
		Len:     rec.Len,
		Valid:   true,
	}

	err := xdec.Decode(&s.dec, rec.PC, rec.Code(), xdec.Mode64)
	substitute := err != nil || s.dec.Empty() || (rejectIRet && s.dec.IsPrivilegedReturn())
	if substitute {
		logger.Debug("substituting nop", "pc", hexAddr(rec.PC), "len", rec.Len, "error", err)
		synthesizeNop(&s.dec, rec.Len, logger)
	}

	ev := &s.ev
	ev.UnknownType = err != nil
	ev.Category = s.dec.Category
	ev.Target = rec.PC + uint64(s.dec.BranchDisp)
	for i := range ev.MemUsed {
		ev.MemUsed[i] = s.dec.MemUsed(i)
	}
	return substitute
}

// synthesizeNop decodes an n-byte NOP into res. Failures are logged only.
func synthesizeNop(res *xdec.Result, n uint8, logger *log.Logger) {
	length := int(n & 0xf)
	if length == 0 {
		logger.Warn("cannot synthesize a zero-length nop")
		*res = xdec.Result{}
		return
	}

	var code []byte
	if length > xdec.MaxShortNop {
		code, _ = xdec.LongNopTail(length)
	} else {
		var buf [xdec.MaxShortNop]byte
		w, err := xdec.EncodeNop(buf[:], length)
		if err != nil {
			logger.Warn("nop encode error", "len", length, "error", err)
		}
		code = buf[:w]
	}

	if err := xdec.Decode(res, 0, code, xdec.Mode64); err != nil {
		logger.Warn("nop decode error", "len", length, "error", err)
	}
}

// resolveTaken finalizes cur.Taken now that its successor is known. An
// instruction counts as taken unless next sits at cur.PC+1.
//
// TODO: the fallthrough address should probably be PC+Len; changing it needs
// sign-off from the simulator owners since it shifts taken-branch counts.
func resolveTaken(cur, next *Event, stats *Stats) {
	if !cur.Valid {
		return
	}
	cur.Taken = next.PC != cur.PC+1
	if cur.Taken && cur.Category.IsBranch() {
		stats.Taken++
	}
}

// count records a freshly parsed event.
func (s *Stats) count(ev *Event, substituted bool) {
	s.Instructions++
	if ev.Category.IsBranch() {
		s.Branches++
	}
	if substituted {
		s.Skipped++
	}
}

// hexAddr prints as 0x-prefixed hex in log output.
type hexAddr uint64

func (h hexAddr) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}
