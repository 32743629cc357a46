package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIgnoresUnknownFields(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"AppId": 730,
		"Name": "Counter-Strike",
		"BuildId": 12345,
		"CreatedDate": "2026-01-02T03:04:05Z",
		"EmulatorMode": "none",
		"OriginalSize": 1000000,
		"FileHashes": {"data/pak01.bin": "deadbeef"},
		"SomeFutureField": {"nested": true}
	}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p.AppID != 730 || p.Name != "Counter-Strike" || p.BuildID != 12345 {
		t.Fatalf("unexpected fields: %+v", p)
	}
	if hash, ok := p.HashFor("data/pak01.bin"); !ok || hash != "deadbeef" {
		t.Fatalf("expected hash lookup to succeed, got %q ok=%v", hash, ok)
	}
	if _, ok := p.HashFor("missing.bin"); ok {
		t.Fatal("expected lookup miss for unknown path")
	}
}

func TestWriteReceivedMarker(t *testing.T) {
	dir := t.TempDir()
	if err := WriteReceivedMarker(dir, "192.168.1.10"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, MarkerFileName)); err != nil {
		t.Fatalf("expected marker file to exist: %v", err)
	}
}
