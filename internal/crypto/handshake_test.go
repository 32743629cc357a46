package crypto

import (
	"crypto/rand"
	"errors"
	"net"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var key [32]byte
	rand.Read(key[:])

	initiatorConn, responderConn := net.Pipe()
	defer initiatorConn.Close()
	defer responderConn.Close()

	errCh := make(chan error, 1)
	var gotInitiatorID string
	go func() {
		id, err := ResponderHandshake(responderConn, key, "responder-1")
		gotInitiatorID = id
		errCh <- err
	}()

	responderID, err := InitiatorHandshake(initiatorConn, key, "initiator-1")
	if err != nil {
		t.Fatalf("initiator handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("responder handshake: %v", err)
	}

	if responderID != "responder-1" {
		t.Errorf("responderID = %q, want responder-1", responderID)
	}
	if gotInitiatorID != "initiator-1" {
		t.Errorf("initiatorID = %q, want initiator-1", gotInitiatorID)
	}
}

func TestHandshakeWrongKeyAborts(t *testing.T) {
	var key, otherKey [32]byte
	rand.Read(key[:])
	rand.Read(otherKey[:])

	initiatorConn, responderConn := net.Pipe()
	defer initiatorConn.Close()
	defer responderConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ResponderHandshake(responderConn, key, "responder-1")
		errCh <- err
	}()

	_, err := InitiatorHandshake(initiatorConn, otherKey, "initiator-1")
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}

	// The initiator aborts without sending its final frame; closing its
	// side unblocks the responder's pending read instead of hanging.
	initiatorConn.Close()

	respErr := <-errCh
	if respErr == nil {
		t.Fatal("expected responder side to also fail")
	}
}
