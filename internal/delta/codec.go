package delta

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// InstructionKind tags a delta instruction the way a BitTorrent message ID
// tags a wire message: one byte, a small closed set.
type InstructionKind uint8

const (
	CopyFromTarget InstructionKind = 0x00
	LiteralData    InstructionKind = 0x01
)

func (k InstructionKind) String() string {
	switch k {
	case CopyFromTarget:
		return "CopyFromTarget"
	case LiteralData:
		return "LiteralData"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Instruction is one step of a delta reconstruction: either copy Length
// bytes from the target file at Offset, or copy Length bytes from the
// literal byte buffer starting at Offset (a literal-stream offset, not a
// file offset).
type Instruction struct {
	Kind   InstructionKind
	Offset uint64
	Length uint32
}

var (
	ErrShortInstruction  = errors.New("delta: short instruction")
	ErrBadInstructionTag = errors.New("delta: unknown instruction tag")
)

var (
	_ encoding.BinaryMarshaler   = (*Instruction)(nil)
	_ encoding.BinaryUnmarshaler = (*Instruction)(nil)
)

const instructionWireSize = 1 + 8 + 4 // tag + offset + length

// MarshalBinary encodes a single instruction as
// <tag:1><offset:8-le><length:4-le>.
func (ins *Instruction) MarshalBinary() ([]byte, error) {
	buf := make([]byte, instructionWireSize)
	buf[0] = byte(ins.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], ins.Offset)
	binary.LittleEndian.PutUint32(buf[9:13], ins.Length)
	return buf, nil
}

// UnmarshalBinary decodes a single instruction from its wire form.
func (ins *Instruction) UnmarshalBinary(b []byte) error {
	if len(b) < instructionWireSize {
		return ErrShortInstruction
	}
	kind := InstructionKind(b[0])
	if kind != CopyFromTarget && kind != LiteralData {
		return ErrBadInstructionTag
	}
	ins.Kind = kind
	ins.Offset = binary.LittleEndian.Uint64(b[1:9])
	ins.Length = binary.LittleEndian.Uint32(b[9:13])
	return nil
}

// Delta is the full reconstruction recipe for one file: an ordered list
// of instructions plus the literal byte buffer they reference.
type Delta struct {
	Instructions []Instruction
	Literal      []byte
}

// MatchedBytes and ChangedBytes report how much of the reconstructed file
// came from the target (CopyFromTarget) versus the literal stream, used
// to compute the savings percentage in the eligibility check.
func (d *Delta) MatchedBytes() int64 {
	var n int64
	for _, ins := range d.Instructions {
		if ins.Kind == CopyFromTarget {
			n += int64(ins.Length)
		}
	}
	return n
}

func (d *Delta) ChangedBytes() int64 {
	return int64(len(d.Literal))
}

// WriteTo serializes the delta in wire layout:
//
//	instruction_count:u32-le
//	literal_len:u32-le
//	instructions_len:u32-le
//	instructions_bytes
//	literal_bytes
func (d *Delta) WriteTo(w io.Writer) (int64, error) {
	var hdr [12]byte
	instructionsLen := len(d.Instructions) * instructionWireSize

	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(d.Instructions)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(d.Literal)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(instructionsLen))

	var total int64
	n, err := w.Write(hdr[:])
	total += int64(n)
	if err != nil {
		return total, err
	}

	instrBuf := make([]byte, instructionsLen)
	for i, ins := range d.Instructions {
		b, _ := ins.MarshalBinary()
		copy(instrBuf[i*instructionWireSize:], b)
	}
	n, err = w.Write(instrBuf)
	total += int64(n)
	if err != nil {
		return total, err
	}

	n, err = w.Write(d.Literal)
	total += int64(n)
	return total, err
}

// ReadFrom deserializes a Delta previously written by WriteTo.
func (d *Delta) ReadFrom(r io.Reader) (int64, error) {
	var hdr [12]byte
	n, err := io.ReadFull(r, hdr[:])
	total := int64(n)
	if err != nil {
		return total, err
	}

	instructionCount := binary.LittleEndian.Uint32(hdr[0:4])
	literalLen := binary.LittleEndian.Uint32(hdr[4:8])
	instructionsLen := binary.LittleEndian.Uint32(hdr[8:12])

	if instructionsLen != instructionCount*instructionWireSize {
		return total, fmt.Errorf("delta: instructions_len %d does not match instruction_count %d", instructionsLen, instructionCount)
	}

	instrBuf := make([]byte, instructionsLen)
	nr, err := io.ReadFull(r, instrBuf)
	total += int64(nr)
	if err != nil {
		return total, err
	}

	instructions := make([]Instruction, instructionCount)
	for i := range instructions {
		off := i * instructionWireSize
		if err := instructions[i].UnmarshalBinary(instrBuf[off : off+instructionWireSize]); err != nil {
			return total, err
		}
	}

	literal := make([]byte, literalLen)
	nr, err = io.ReadFull(r, literal)
	total += int64(nr)
	if err != nil {
		return total, err
	}

	d.Instructions = instructions
	d.Literal = literal
	return total, nil
}

// Serialize and Deserialize are byte-slice convenience wrappers around
// WriteTo/ReadFrom for callers that already hold the full frame buffered.
func Serialize(d *Delta) ([]byte, error) {
	var buf writeBuffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func Deserialize(b []byte) (*Delta, error) {
	d := &Delta{}
	if _, err := d.ReadFrom(newReadBuffer(b)); err != nil {
		return nil, err
	}
	return d, nil
}

type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

type readBuffer struct {
	b   []byte
	pos int
}

func newReadBuffer(b []byte) *readBuffer { return &readBuffer{b: b} }

func (r *readBuffer) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
