package xferr

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Protocol:     "protocol",
		Auth:         "auth",
		Path:         "path",
		Integrity:    "integrity",
		Resource:     "resource",
		Policy:       "policy",
		Transient:    "transient",
		Cancellation: "cancellation",
		Kind(99):     "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := New(Path, "unsafe relative path")
	if e.Error() != "path: unsafe relative path" {
		t.Fatalf("unexpected message: %s", e.Error())
	}

	wrapped := Wrap(Transient, "read failed", errors.New("EOF"))
	if wrapped.Error() != "transient: read failed: EOF" {
		t.Fatalf("unexpected wrapped message: %s", wrapped.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	e := Wrap(Resource, "no space", inner)

	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if errors.Unwrap(e) != inner {
		t.Fatal("Unwrap did not return the wrapped error")
	}
}

func TestErrorIsByKind(t *testing.T) {
	a := New(Integrity, "hash mismatch for save1.dat")
	b := New(Integrity, "hash mismatch for save2.dat")
	c := New(Auth, "handshake failed")

	if !errors.Is(a, b) {
		t.Fatal("two Integrity errors with different messages should match via Is")
	}
	if errors.Is(a, c) {
		t.Fatal("Integrity error should not match Auth error")
	}
}

func TestErrorAsRecoversKind(t *testing.T) {
	err := error(Wrap(Policy, "rejected by peer", errors.New("timeout")))

	var xe *Error
	if !errors.As(err, &xe) {
		t.Fatal("errors.As failed to recover *Error")
	}
	if xe.Kind != Policy {
		t.Fatalf("recovered Kind = %v, want Policy", xe.Kind)
	}
}
