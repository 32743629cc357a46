package hashutil

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashStreamMatchesReference(t *testing.T) {
	path := writeTempFile(t, 10_000)
	data, _ := os.ReadFile(path)

	got, err := HashFile(context.Background(), path, XxHash64)
	if err != nil {
		t.Fatal(err)
	}

	want := xxhash.Sum64(data)
	var wantBytes [8]byte
	for i := 0; i < 8; i++ {
		wantBytes[i] = byte(want >> (8 * (7 - i)))
	}
	if string(got) != string(wantBytes[:]) {
		t.Fatalf("xxhash mismatch: got %x want %x", got, wantBytes)
	}

	gotSHA, err := HashFile(context.Background(), path, SHA256)
	if err != nil {
		t.Fatal(err)
	}
	wantSHA := sha256.Sum256(data)
	if string(gotSHA) != string(wantSHA[:]) {
		t.Fatalf("sha256 mismatch")
	}
}

func TestHashEmptyFile(t *testing.T) {
	path := writeTempFile(t, 0)

	got, err := HashFile(context.Background(), path, XxHash64)
	if err != nil {
		t.Fatal(err)
	}

	want := xxhash.Sum64(nil)
	var wantBytes [8]byte
	for i := 0; i < 8; i++ {
		wantBytes[i] = byte(want >> (8 * (7 - i)))
	}
	if string(got) != string(wantBytes[:]) {
		t.Fatalf("empty-file xxhash mismatch: got %x want %x", got, wantBytes)
	}
}

func TestHashFileMatchesHashFileSync(t *testing.T) {
	// Both calls take the streamed path: the fixture is below
	// MmapThreshold, since generating a >100MiB fixture is impractical in
	// a unit test. The mmap branch is not exercised here.
	path := writeTempFile(t, 3*streamBufSize+17)

	got1, err := HashFile(context.Background(), path, XxHash64)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := HashFileSync(path, XxHash64)
	if err != nil {
		t.Fatal(err)
	}
	if string(got1) != string(got2) {
		t.Fatal("HashFile and HashFileSync disagree")
	}
}
