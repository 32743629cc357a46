package swarm

import (
	"fmt"
	"os"
	"sync"
)

// RandomAccessWriter pre-sizes an output file and serializes writes to
// exact offsets under a single mutex so any task may call WriteAt
// concurrently while blocks complete out of order.
type RandomAccessWriter struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRandomAccessWriter creates (or truncates) path and pre-sizes it to
// size, sparse where the platform supports it.
func NewRandomAccessWriter(path string, size int64) (*RandomAccessWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &RandomAccessWriter{f: f, size: size}, nil
}

// WriteAt writes data at the exact offset, serialized against every
// other caller of WriteAt on this writer.
func (w *RandomAccessWriter) WriteAt(data []byte, offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.f.WriteAt(data, offset)
	return err
}

// Close flushes and closes the underlying file, asserting its final size
// equals the declared size (§4.10).
func (w *RandomAccessWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}

	info, err := w.f.Stat()
	if err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	if info.Size() != w.size {
		return fmt.Errorf("swarm: final size %d does not match declared size %d", info.Size(), w.size)
	}
	return nil
}
