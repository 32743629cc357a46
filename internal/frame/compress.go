package frame

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressWriter wraps w so every Write is GZip-compressed before
// reaching the underlying connection. The sender and receiver do not wrap
// their streams with it: a V2 header's GZip flag leaves the bytes on the
// wire uncompressed. Close must be called to flush the trailing gzip
// footer; it does not close w.
type CompressWriter struct {
	gz *gzip.Writer
}

func NewCompressWriter(w io.Writer) *CompressWriter {
	return &CompressWriter{gz: gzip.NewWriter(w)}
}

func (c *CompressWriter) Write(p []byte) (int, error) { return c.gz.Write(p) }

func (c *CompressWriter) Flush() error { return c.gz.Flush() }

func (c *CompressWriter) Close() error { return c.gz.Close() }

// CompressReader wraps r so reads transparently inflate a GZip stream
// produced by CompressWriter.
type CompressReader struct {
	gz *gzip.Reader
}

func NewCompressReader(r io.Reader) (*CompressReader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &CompressReader{gz: gz}, nil
}

func (c *CompressReader) Read(p []byte) (int, error) { return c.gz.Read(p) }

func (c *CompressReader) Close() error { return c.gz.Close() }
