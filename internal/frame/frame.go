// Package frame implements the length-prefixed JSON framing used by every
// transfer-session message (§4.1): a 4-byte little-endian length prefix
// followed by exactly that many bytes of JSON, with a bounded reader so a
// peer cannot claim a length larger than it actually sends and force the
// receiver to buffer without limit.
package frame

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/nordicnode/steamroll/internal/xferr"
)

// MaxFrameSize is the largest payload a single frame may declare (§5,
// §9 Size budget). Anything above this is rejected before the body is
// read.
const MaxFrameSize = 128 * 1024 * 1024

// DefaultDeadline bounds a single frame's send or receive (§5).
const DefaultDeadline = 60 * time.Second

var (
	// ErrFrameTooLarge is returned when a declared length exceeds
	// MaxFrameSize. The connection should be closed by the caller; the
	// body is never read.
	ErrFrameTooLarge = errors.New("frame: declared length exceeds maximum")

	// ErrBadLength is returned for a non-positive declared length.
	ErrBadLength = errors.New("frame: non-positive length")
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Send encodes v as JSON and writes it as a single length-prefixed frame
// to w. If w supports per-call deadlines (e.g. *net.TCPConn), Send bounds
// itself to DefaultDeadline.
func Send(ctx context.Context, w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return xferr.Wrap(xferr.Protocol, "frame: encode", err)
	}
	if len(body) > MaxFrameSize {
		return xferr.Wrap(xferr.Protocol, "frame: payload exceeds maximum", ErrFrameTooLarge)
	}

	if err := applyDeadline(w, DefaultDeadline); err != nil {
		return err
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))

	if _, err := w.Write(hdr[:]); err != nil {
		return xferr.Wrap(xferr.Transient, "frame: write length", err)
	}
	if _, err := w.Write(body); err != nil {
		return xferr.Wrap(xferr.Transient, "frame: write body", err)
	}
	if err := ctx.Err(); err != nil {
		return xferr.Wrap(xferr.Cancellation, "frame: send canceled", err)
	}
	return nil
}

// Receive reads one length-prefixed JSON frame from r and decodes it into
// a new T. A declared length of zero or less, or above MaxFrameSize,
// returns ok=false without reading the body (so a malicious declared
// length never causes an unbounded read).
func Receive[T any](ctx context.Context, r io.Reader) (value T, ok bool, err error) {
	if err := applyDeadline(r, DefaultDeadline); err != nil {
		return value, false, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return value, false, nil
		}
		return value, false, xferr.Wrap(xferr.Transient, "frame: read length", err)
	}

	length := int32(binary.LittleEndian.Uint32(hdr[:]))
	if length <= 0 {
		return value, false, nil
	}
	if int64(length) > MaxFrameSize {
		return value, false, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(newBoundedReader(r, int64(length)), body); err != nil {
		return value, false, xferr.Wrap(xferr.Transient, "frame: read body", err)
	}

	if err := json.Unmarshal(body, &value); err != nil {
		return value, false, xferr.Wrap(xferr.Protocol, "frame: decode", err)
	}
	if err := ctx.Err(); err != nil {
		return value, false, xferr.Wrap(xferr.Cancellation, "frame: receive canceled", err)
	}
	return value, true, nil
}

func applyDeadline(v any, d time.Duration) error {
	dl, ok := v.(deadliner)
	if !ok {
		return nil
	}
	if err := dl.SetDeadline(time.Now().Add(d)); err != nil {
		return xferr.Wrap(xferr.Transient, "frame: set deadline", err)
	}
	return nil
}

// boundedReader refuses to read past a fixed byte count, the defense
// against a peer whose actual stream is shorter (or attempts to keep
// streaming) than its declared frame length.
type boundedReader struct {
	r         io.Reader
	remaining int64
}

func newBoundedReader(r io.Reader, limit int64) io.Reader {
	return &boundedReader{r: r, remaining: limit}
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	return n, err
}

// ExactReader wraps r so repeated reads only ever return exactly n total
// bytes, used by the sender/receiver file transmission loop to copy a
// declared file size out of a shared connection without overrunning into
// whatever immediately follows on the wire. It must not introduce any
// internal buffering of its own, since r is a live connection shared with
// the next frame.
func ExactReader(r io.Reader, n int64) io.Reader {
	return io.LimitReader(r, n)
}
