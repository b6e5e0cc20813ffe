package trace

import (
	"encoding/binary"
	"fmt"
	"io"

	"tracefeed/internal/xdec"
)

// RecordSize is the encoded size of a Record.
const RecordSize = 26

// Record is one instruction as stored in a binary trace:
//
//	offset 0   pc, little endian
//	offset 8   source binary id
//	offset 9   instruction length
//	offset 10  instruction bytes, only the first length are significant
//	offset 25  reserved, zero
type Record struct {
	PC     uint64
	Binary uint8
	Len    uint8
	Insn   [xdec.MaxInstLen]byte
}

// Code returns the significant instruction bytes.
func (r *Record) Code() []byte {
	n := int(r.Len)
	if n > len(r.Insn) {
		n = len(r.Insn)
	}
	return r.Insn[:n]
}

// MarshalTo encodes r into buf, which must hold RecordSize bytes.
func (r *Record) MarshalTo(buf []byte) {
	_ = buf[RecordSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], r.PC)
	buf[8] = r.Binary
	buf[9] = r.Len
	copy(buf[10:10+xdec.MaxInstLen], r.Insn[:])
	buf[RecordSize-1] = 0
}

// Unmarshal decodes buf into r.
func (r *Record) Unmarshal(buf []byte) error {
	if len(buf) < RecordSize {
		return fmt.Errorf("record too short: %d bytes", len(buf))
	}
	r.PC = binary.LittleEndian.Uint64(buf[0:8])
	r.Binary = buf[8]
	r.Len = buf[9]
	copy(r.Insn[:], buf[10:10+xdec.MaxInstLen])
	if r.Len == 0 || r.Len > xdec.MaxInstLen {
		return fmt.Errorf("record at pc %#x has invalid length %d", r.PC, r.Len)
	}
	return nil
}

// WriteRecord encodes r to w.
func WriteRecord(w io.Writer, r *Record) error {
	var buf [RecordSize]byte
	r.MarshalTo(buf[:])
	_, err := w.Write(buf[:])
	return err
}

// ReadRecord reads exactly one record from rd. It returns io.EOF at a clean
// end of stream and io.ErrUnexpectedEOF for a truncated record.
func ReadRecord(rd io.Reader, r *Record) error {
	var buf [RecordSize]byte
	if _, err := io.ReadFull(rd, buf[:]); err != nil {
		return err
	}
	return r.Unmarshal(buf[:])
}
