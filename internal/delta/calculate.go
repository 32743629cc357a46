package delta

import (
	"github.com/cespare/xxhash/v2"
)

// MinSourceSize, MinSizeRatio, and MinSavingsPercent implement the
// eligibility gate in §4.6: a file is only worth delta-syncing when it is
// large enough, close enough in size to the existing target, and the
// computed delta actually saves meaningfully over a whole-file transfer.
const (
	MinSourceSize    = 256 * 1024
	MinSizeRatio     = 0.5
	MinSavingsPercent = 20.0
)

// Eligible reports whether a file of sourceSize, with an existing target
// of targetSize, should attempt delta calculation at all. Callers still
// need to measure actual savings after Calculate returns; this only
// gates the cheap pre-checks.
func Eligible(sourceSize, targetSize int64) bool {
	if sourceSize < MinSourceSize {
		return false
	}
	if targetSize <= 0 {
		return false
	}
	lo, hi := sourceSize, targetSize
	if lo > hi {
		lo, hi = hi, lo
	}
	ratio := float64(lo) / float64(hi)
	return ratio >= MinSizeRatio
}

// SavingsPercent returns the percentage of the reconstructed file that
// was satisfied from the target rather than sent as literal bytes.
func SavingsPercent(d *Delta, sourceSize int64) float64 {
	if sourceSize <= 0 {
		return 0
	}
	matched := d.MatchedBytes()
	return 100 * float64(matched) / float64(sourceSize)
}

type signatureIndex struct {
	byWeak map[uint32][]Signature
}

func newSignatureIndex(sigs []Signature) *signatureIndex {
	idx := &signatureIndex{byWeak: make(map[uint32][]Signature, len(sigs))}
	for _, s := range sigs {
		idx.byWeak[s.Weak] = append(idx.byWeak[s.Weak], s)
	}
	return idx
}

func (idx *signatureIndex) candidates(weak uint32) []Signature {
	return idx.byWeak[weak]
}

// Calculate computes a Delta that reconstructs source using sigs, the
// block signatures of an existing target file. It scans source with a
// sliding window of BlockSize, rolling the weak hash one byte at a time;
// on a weak-hash hit it confirms with the strong hash before emitting a
// CopyFromTarget, flushing any pending literal bytes first. On a miss it
// advances the window by one byte and grows the pending literal buffer.
func Calculate(source []byte, sigs []Signature) *Delta {
	idx := newSignatureIndex(sigs)

	d := &Delta{}
	var literalStart int // start of pending literal run within source
	pos := 0
	n := len(source)

	if n == 0 {
		return d
	}

	windowLen := BlockSize
	if windowLen > n {
		windowLen = n
	}

	flushLiteral := func(end int) {
		if end > literalStart {
			offset := uint64(len(d.Literal))
			length := uint32(end - literalStart)
			d.Literal = append(d.Literal, source[literalStart:end]...)
			d.Instructions = append(d.Instructions, Instruction{
				Kind:   LiteralData,
				Offset: offset,
				Length: length,
			})
		}
	}

	var roll *RollingHash
	for pos <= n-windowLen {
		window := source[pos : pos+windowLen]
		if roll == nil {
			roll = NewRollingHash(window)
		}

		weak := roll.Sum()
		if cands := idx.candidates(weak); len(cands) > 0 {
			strong := xxhash.Sum64(window)
			matched := false
			for _, c := range cands {
				if c.Strong == strong && int(c.Length) == windowLen {
					flushLiteral(pos)
					d.Instructions = append(d.Instructions, Instruction{
						Kind:   CopyFromTarget,
						Offset: c.Offset,
						Length: c.Length,
					})
					pos += windowLen
					literalStart = pos
					matched = true
					break
				}
			}
			if matched {
				roll = nil
				if pos > n-windowLen {
					break
				}
				continue
			}
		}

		if pos+windowLen < n {
			roll.Roll(source[pos], source[pos+windowLen])
		}
		pos++
	}

	flushLiteral(n)
	return d
}

// Apply reconstructs the original file from target (random-access reads)
// and d's instructions and literal buffer, writing the result to dst.
func Apply(dst []byte, target ReaderAt, d *Delta) error {
	written := 0
	for _, ins := range d.Instructions {
		switch ins.Kind {
		case CopyFromTarget:
			buf := make([]byte, ins.Length)
			if _, err := target.ReadAt(buf, int64(ins.Offset)); err != nil {
				return err
			}
			copy(dst[written:], buf)
		case LiteralData:
			copy(dst[written:], d.Literal[ins.Offset:ins.Offset+uint64(ins.Length)])
		default:
			return ErrBadInstructionTag
		}
		written += int(ins.Length)
	}
	return nil
}

// ReaderAt is the minimal target-file capability Apply needs; satisfied
// by *os.File.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// OutputSize returns the total reconstructed size implied by d's
// instructions, used to pre-size the destination buffer/file.
func OutputSize(d *Delta) int64 {
	var n int64
	for _, ins := range d.Instructions {
		n += int64(ins.Length)
	}
	return n
}
