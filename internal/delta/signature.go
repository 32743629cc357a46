package delta

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
)

// BlockSize is the fixed signature chunk size used by both signature
// generation and delta calculation (§4.6).
const BlockSize = 64 * 1024

// Signature describes one block of an existing target file: its offset
// and length, a cheap rolling weak hash, and a strong hash used to
// confirm a weak-hash collision before committing to a CopyFromTarget.
type Signature struct {
	Offset uint64
	Length uint32
	Weak   uint32
	Strong uint64 // XxHash64 of the block
	Index  uint32
}

// GenerateSignatures reads r sequentially in BlockSize chunks and emits
// one Signature per chunk; the final chunk may be shorter than BlockSize.
func GenerateSignatures(r io.Reader) ([]Signature, error) {
	var sigs []Signature
	buf := make([]byte, BlockSize)

	var offset uint64
	var index uint32
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			sigs = append(sigs, Signature{
				Offset: offset,
				Length: uint32(n),
				Weak:   ComputeWeakHash(chunk),
				Strong: xxhash.Sum64(chunk),
				Index:  index,
			})
			offset += uint64(n)
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return sigs, nil
}

const signatureWireSize = 8 + 4 + 4 + 8 + 4

// SerializeSignatures and DeserializeSignatures round-trip a []Signature
// to its wire form (a flat array of fixed-size records), the format used
// for the ACK's delta-signature map (§6.2).
func SerializeSignatures(sigs []Signature) []byte {
	buf := make([]byte, len(sigs)*signatureWireSize)
	for i, s := range sigs {
		off := i * signatureWireSize
		binary.LittleEndian.PutUint64(buf[off:off+8], s.Offset)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], s.Length)
		binary.LittleEndian.PutUint32(buf[off+12:off+16], s.Weak)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], s.Strong)
		binary.LittleEndian.PutUint32(buf[off+24:off+28], s.Index)
	}
	return buf
}

func DeserializeSignatures(b []byte) ([]Signature, error) {
	if len(b)%signatureWireSize != 0 {
		return nil, ErrShortInstruction
	}
	count := len(b) / signatureWireSize
	sigs := make([]Signature, count)
	for i := range sigs {
		off := i * signatureWireSize
		sigs[i] = Signature{
			Offset: binary.LittleEndian.Uint64(b[off : off+8]),
			Length: binary.LittleEndian.Uint32(b[off+8 : off+12]),
			Weak:   binary.LittleEndian.Uint32(b[off+12 : off+16]),
			Strong: binary.LittleEndian.Uint64(b[off+16 : off+24]),
			Index:  binary.LittleEndian.Uint32(b[off+24 : off+28]),
		}
	}
	return sigs, nil
}
