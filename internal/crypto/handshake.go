package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding"
	"errors"
	"fmt"
	"io"
)

const challengeSize = 32

var (
	// ErrHandshakeFailed covers any integrity failure during the V3
	// handshake: a bad decryption or a challenge that doesn't round-trip.
	// Per §4.5/§7 (Auth), the connection must be aborted, never retried
	// or downgraded to plaintext.
	ErrHandshakeFailed = errors.New("crypto: handshake failed")

	_ encoding.BinaryMarshaler   = (*challengeFrame)(nil)
	_ encoding.BinaryUnmarshaler = (*challengeFrame)(nil)
)

// challengeFrame is a length-prefixed opaque byte blob used for the three
// handshake legs. It carries either a plaintext challenge or a GCM-sealed
// challenge+id, distinguished only by which leg sent it.
type challengeFrame struct {
	Data []byte
}

func (f *challengeFrame) MarshalBinary() ([]byte, error) {
	if len(f.Data) > 1<<20 {
		return nil, fmt.Errorf("crypto: handshake frame too large")
	}

	n := len(f.Data)
	buf := make([]byte, 4+n)
	buf[0], buf[1], buf[2], buf[3] = byte(n), byte(n>>8), byte(n>>16), byte(n>>24)
	copy(buf[4:], f.Data)
	return buf, nil
}

func (f *challengeFrame) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return io.ErrUnexpectedEOF
	}
	n := int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
	if n < 0 || len(b) < 4+n {
		return io.ErrUnexpectedEOF
	}
	f.Data = append([]byte(nil), b[4:4+n]...)
	return nil
}

func writeFrame(w io.Writer, data []byte) error {
	f := challengeFrame{Data: data}
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	if n < 0 || n > 1<<20 {
		return nil, fmt.Errorf("crypto: handshake frame too large")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// sealBlob one-shot-encrypts plaintext under key, prefixing the result with
// its random nonce. Handshake legs use this rather than the streaming
// RecordWriter framing, since each leg is sent exactly once.
func sealBlob(key [32]byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce[:], plaintext, nil)
	return append(nonce[:], sealed...), nil
}

func openBlob(key [32]byte, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize {
		return nil, ErrHandshakeFailed
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	return plaintext, nil
}

// InitiatorHandshake performs the sender side of the V3 handshake over rw
// using the pre-shared key derived during pairing (§4.5).
//
//  1. initiator -> responder: random 32-byte challenge
//  2. responder -> initiator: Seal(challenge || responderID)
//  3. initiator verifies the decryption and the embedded challenge, then
//     sends Seal(initiatorID)
//
// On success it returns the responder's declared id; the caller then wraps
// rw in a RecordReader/RecordWriter pair for the rest of the session.
func InitiatorHandshake(rw io.ReadWriter, key [32]byte, initiatorID string) (responderID string, err error) {
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("crypto: generate challenge: %w", err)
	}
	if err := writeFrame(rw, challenge); err != nil {
		return "", fmt.Errorf("crypto: send challenge: %w", err)
	}

	sealedReply, err := readFrame(rw)
	if err != nil {
		return "", fmt.Errorf("crypto: read challenge reply: %w", err)
	}

	plaintext, err := openBlob(key, sealedReply)
	if err != nil {
		return "", ErrHandshakeFailed
	}
	if len(plaintext) < challengeSize || !bytes.Equal(plaintext[:challengeSize], challenge) {
		return "", ErrHandshakeFailed
	}
	responderID = string(plaintext[challengeSize:])

	sealedID, err := sealBlob(key, []byte(initiatorID))
	if err != nil {
		return "", fmt.Errorf("crypto: seal initiator id: %w", err)
	}
	if err := writeFrame(rw, sealedID); err != nil {
		return "", fmt.Errorf("crypto: send initiator id: %w", err)
	}

	return responderID, nil
}

// ResponderHandshake performs the receiver side of the V3 handshake.
func ResponderHandshake(rw io.ReadWriter, key [32]byte, responderID string) (initiatorID string, err error) {
	challenge, err := readFrame(rw)
	if err != nil {
		return "", fmt.Errorf("crypto: read challenge: %w", err)
	}
	if len(challenge) != challengeSize {
		return "", ErrHandshakeFailed
	}

	reply := append(append([]byte(nil), challenge...), []byte(responderID)...)
	sealedReply, err := sealBlob(key, reply)
	if err != nil {
		return "", fmt.Errorf("crypto: seal challenge reply: %w", err)
	}
	if err := writeFrame(rw, sealedReply); err != nil {
		return "", fmt.Errorf("crypto: send challenge reply: %w", err)
	}

	sealedID, err := readFrame(rw)
	if err != nil {
		return "", fmt.Errorf("crypto: read initiator id: %w", err)
	}
	plaintext, err := openBlob(key, sealedID)
	if err != nil {
		return "", ErrHandshakeFailed
	}

	return string(plaintext), nil
}
