//go:build linux || darwin || freebsd || openbsd || netbsd

package hashutil

import (
	"fmt"
	"os"
	"syscall"
)

// mapChunk memory-maps the [offset, offset+n) region of f.
func mapChunk(f *os.File, offset, n int64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	data, err := syscall.Mmap(int(f.Fd()), offset, int(n), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hashutil: mmap: %w", err)
	}
	return data, nil
}

func unmapChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = syscall.Munmap(data)
}
