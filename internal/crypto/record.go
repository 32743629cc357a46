// Package crypto implements the optional authenticated-encryption layer for
// V3 sessions (§4.5): an AES-256-GCM record stream plus the challenge/
// response handshake that establishes it. Once the handshake completes,
// every byte on the wire flows through a RecordReader/RecordWriter pair so
// upper layers (framing, file streaming) see what looks like plain I/O.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the length of the random nonce prefixing each record.
	NonceSize = 12

	// DefaultRecordSize bounds how much plaintext RecordWriter seals into
	// a single record.
	DefaultRecordSize = 64 * 1024

	maxRecordCiphertext = 16 * 1024 * 1024
)

var (
	// ErrKeySize is returned when a key is not exactly 32 bytes (AES-256).
	ErrKeySize = errors.New("crypto: key must be 32 bytes")

	// ErrRecordTooLarge is returned when a peer claims a ciphertext length
	// the reader refuses to allocate for.
	ErrRecordTooLarge = errors.New("crypto: record ciphertext too large")

	// ErrDecryptFailed wraps any GCM authentication failure; the caller
	// must close the connection on this error without retry (§7 Auth).
	ErrDecryptFailed = errors.New("crypto: record authentication failed")
)

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return gcm, nil
}

// RecordWriter chunks plaintext into bounded AES-256-GCM records and writes
// them to the underlying stream. It implements io.Writer, so callers can
// wrap a net.Conn once after the V3 handshake and write to it like any
// other stream.
type RecordWriter struct {
	w         io.Writer
	gcm       cipher.AEAD
	recordLen int
	buf       []byte
}

// NewRecordWriter returns a RecordWriter sealing records with key, chunking
// plaintext into records of at most recordLen bytes (DefaultRecordSize if
// recordLen <= 0).
func NewRecordWriter(w io.Writer, key [32]byte, recordLen int) (*RecordWriter, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if recordLen <= 0 {
		recordLen = DefaultRecordSize
	}

	return &RecordWriter{w: w, gcm: gcm, recordLen: recordLen}, nil
}

// Write implements io.Writer, sealing p into one or more records.
func (rw *RecordWriter) Write(p []byte) (int, error) {
	total := 0

	for len(p) > 0 {
		n := len(p)
		if n > rw.recordLen {
			n = rw.recordLen
		}

		if err := rw.writeRecord(p[:n]); err != nil {
			return total, err
		}

		total += n
		p = p[n:]
	}

	return total, nil
}

func (rw *RecordWriter) writeRecord(plaintext []byte) error {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("crypto: generate nonce: %w", err)
	}

	ciphertext := rw.gcm.Seal(rw.buf[:0], nonce[:], plaintext, nil)
	rw.buf = ciphertext

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(ciphertext)))

	if _, err := rw.w.Write(nonce[:]); err != nil {
		return err
	}
	if _, err := rw.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := rw.w.Write(ciphertext)
	return err
}

// RecordReader reassembles a stream of AES-256-GCM records into a
// contiguous plaintext byte stream. It implements io.Reader.
type RecordReader struct {
	r       io.Reader
	gcm     cipher.AEAD
	pending []byte // unread plaintext from the most recently opened record
}

// NewRecordReader returns a RecordReader opening records with key.
func NewRecordReader(r io.Reader, key [32]byte) (*RecordReader, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return &RecordReader{r: r, gcm: gcm}, nil
}

// Read implements io.Reader. Any GCM authentication failure is reported as
// ErrDecryptFailed and the caller must stop reading from this stream; a
// tampered or truncated record cannot be recovered from.
func (rr *RecordReader) Read(p []byte) (int, error) {
	if len(rr.pending) == 0 {
		if err := rr.readRecord(); err != nil {
			return 0, err
		}
	}

	n := copy(p, rr.pending)
	rr.pending = rr.pending[n:]

	return n, nil
}

func (rr *RecordReader) readRecord() error {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rr.r, nonce[:]); err != nil {
		return err
	}

	var lenPrefix [4]byte
	if _, err := io.ReadFull(rr.r, lenPrefix[:]); err != nil {
		return err
	}

	length := binary.LittleEndian.Uint32(lenPrefix[:])
	if length > maxRecordCiphertext {
		return ErrRecordTooLarge
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(rr.r, ciphertext); err != nil {
		return err
	}

	plaintext, err := rr.gcm.Open(ciphertext[:0], nonce[:], ciphertext, nil)
	if err != nil {
		return ErrDecryptFailed
	}

	rr.pending = plaintext
	return nil
}
