// Package sender drives the outbound half of a transfer session (§4.8):
// connect, send header and manifest, process the receiver's ACK, stream
// each file (skip/delta/whole-file), and read the completion frame.
package sender

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/nordicnode/steamroll/internal/config"
	"github.com/nordicnode/steamroll/internal/crypto"
	"github.com/nordicnode/steamroll/internal/delta"
	"github.com/nordicnode/steamroll/internal/frame"
	"github.com/nordicnode/steamroll/internal/hashutil"
	"github.com/nordicnode/steamroll/internal/metadata"
	"github.com/nordicnode/steamroll/internal/pairing"
	"github.com/nordicnode/steamroll/internal/ratelimit"
	"github.com/nordicnode/steamroll/internal/wire"
	"github.com/nordicnode/steamroll/internal/xferr"
)

// Progress describes transmission state, emitted at most every 100 ms
// (§4.8).
type Progress struct {
	CurrentFile    string
	FilesSent      int
	TotalFiles     int
	BytesSent      int64
	TotalBytes     int64
}

// ProgressFunc receives throttled progress updates. It must not block.
type ProgressFunc func(Progress)

const progressInterval = 100 * time.Millisecond

// Session holds everything one Send call needs.
type Session struct {
	Settings    config.Settings
	PackageRoot string
	GameName    string
	Key         *[32]byte // non-nil when V3 encryption is in play
	Limiter     *ratelimit.Limiter
	Log         *slog.Logger
	OnProgress  ProgressFunc
}

// Send runs the full sender state machine against an already-dialed
// connection and returns the receiver's completion frame.
func (s *Session) Send(ctx context.Context, conn net.Conn) (*wire.Complete, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sender", "game", s.GameName)

	manifest, meta, err := s.buildManifest()
	if err != nil {
		return nil, xferr.Wrap(xferr.Protocol, "sender: build manifest", err)
	}

	if s.Limiter == nil && s.Settings.TransferSpeedLimitBps > 0 {
		s.Limiter = ratelimit.New(func() int64 { return s.Settings.TransferSpeedLimitBps })
	}

	magic := s.chooseMagic()

	header := wire.Header{
		Magic:         magic,
		GameName:      s.GameName,
		TotalFiles:    len(manifest),
		TotalSize:     manifest.TotalSize(),
		TransferType:  wire.TransferPackage,
		Compression:   s.compressionMode(magic),
		SupportsDelta: true,
	}
	if err := frame.Send(ctx, conn, header); err != nil {
		return nil, err
	}

	var rw io.ReadWriter = conn
	if magic == wire.MagicV3 {
		if s.Key == nil {
			return nil, xferr.New(xferr.Auth, "sender: encryption required but no paired key")
		}
		deviceID := s.Settings.DeviceID
		if _, err := crypto.InitiatorHandshake(conn, *s.Key, deviceID); err != nil {
			return nil, xferr.Wrap(xferr.Auth, "sender: handshake failed", err)
		}
		recWriter, err := crypto.NewRecordWriter(conn, *s.Key, crypto.DefaultRecordSize)
		if err != nil {
			return nil, xferr.Wrap(xferr.Auth, "sender: record writer", err)
		}
		recReader, err := crypto.NewRecordReader(conn, *s.Key)
		if err != nil {
			return nil, xferr.Wrap(xferr.Auth, "sender: record reader", err)
		}
		rw = struct {
			io.Reader
			io.Writer
		}{recReader, recWriter}
	}

	if err := frame.Send(ctx, rw, manifest); err != nil {
		return nil, err
	}

	ack, ok, err := frame.Receive[wire.ACK](ctx, rw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xferr.New(xferr.Protocol, "sender: receiver closed before ACK")
	}
	if !ack.Accepted {
		return nil, xferr.New(xferr.Policy, "sender: rejected: "+ack.Reason)
	}

	if err := s.sendFiles(ctx, rw, manifest, &ack, meta, log); err != nil {
		return nil, err
	}

	complete, ok, err := frame.Receive[wire.Complete](ctx, rw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xferr.New(xferr.Protocol, "sender: receiver closed before completion frame")
	}
	return &complete, nil
}

func (s *Session) chooseMagic() wire.Magic {
	switch {
	case s.Settings.RequireEncryption:
		return wire.MagicV3
	case s.Settings.EnableCompression:
		return wire.MagicV2
	default:
		return wire.MagicV1
	}
}

func (s *Session) compressionMode(magic wire.Magic) wire.Compression {
	if s.Settings.EnableCompression && magic != wire.MagicV3 {
		return wire.CompressionGZip
	}
	return wire.CompressionNone
}

// buildManifest enumerates the package root. For each file it applies
// "smart hashing": if the file's modification time is at or before the
// metadata's recorded creation date, the stored hash is trusted; a file
// touched after packaging is rehashed now.
func (s *Session) buildManifest() (wire.Manifest, *metadata.Package, error) {
	meta, err := metadata.Load(s.PackageRoot)
	if err != nil {
		return nil, nil, err
	}

	var manifest wire.Manifest
	err = filepath.Walk(s.PackageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.PackageRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == metadata.FileName || rel == metadata.MarkerFileName {
			return nil
		}

		hash, trusted := meta.HashFor(rel)
		if !trusted || info.ModTime().After(meta.CreatedDate) {
			sum, err := hashutil.HashFileSync(path, hashutil.XxHash64)
			if err != nil {
				return err
			}
			hash = hashutil.HexString(sum)
		}

		manifest = append(manifest, wire.FileEntry{
			Path:     rel,
			Size:     info.Size(),
			Hash:     hash,
			UseDelta: info.Size() >= delta.MinSourceSize,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return manifest, meta, nil
}

func (s *Session) sendFiles(ctx context.Context, rw io.ReadWriter, manifest wire.Manifest, ack *wire.ACK, meta *metadata.Package, log *slog.Logger) error {
	var bytesSent int64
	totalBytes := manifest.TotalSize()
	lastProgress := time.Time{}

	emit := func(current string, filesSent int) {
		if s.OnProgress == nil {
			return
		}
		now := time.Now()
		if now.Sub(lastProgress) < progressInterval {
			return
		}
		lastProgress = now
		s.OnProgress(Progress{
			CurrentFile: current,
			FilesSent:   filesSent,
			TotalFiles:  len(manifest),
			BytesSent:   bytesSent,
			TotalBytes:  totalBytes,
		})
	}

	for i, entry := range manifest {
		if ctx.Err() != nil {
			return xferr.Wrap(xferr.Cancellation, "sender: canceled", ctx.Err())
		}

		if ack.IsSkipped(entry.Path) {
			bytesSent += entry.Size
			emit(entry.Path, i+1)
			continue
		}

		fullPath := filepath.Join(s.PackageRoot, filepath.FromSlash(entry.Path))

		if sigBytes, hasSigs := ack.HasDeltaSignatures(entry.Path); hasSigs {
			sent, err := s.sendDeltaOrWhole(ctx, rw, fullPath, entry, sigBytes)
			if err != nil {
				return err
			}
			bytesSent += sent
		} else {
			sent, err := s.sendWholeFile(ctx, rw, fullPath, entry.Size)
			if err != nil {
				return err
			}
			bytesSent += sent
		}

		emit(entry.Path, i+1)
	}
	return nil
}

func (s *Session) sendDeltaOrWhole(ctx context.Context, rw io.ReadWriter, path string, entry wire.FileEntry, sigBytes []byte) (int64, error) {
	sigs, err := delta.DeserializeSignatures(sigBytes)
	if err != nil {
		return 0, xferr.Wrap(xferr.Protocol, "sender: decode signatures", err)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return 0, xferr.Wrap(xferr.Transient, "sender: read source", err)
	}

	d := delta.Calculate(source, sigs)
	savings := delta.SavingsPercent(d, int64(len(source)))

	if savings >= delta.MinSavingsPercent {
		if err := s.throttledWrite(ctx, rw, []byte{byte(wire.ModeDelta)}); err != nil {
			return 0, err
		}
		buf, err := delta.Serialize(d)
		if err != nil {
			return 0, err
		}
		if err := s.throttledWrite(ctx, rw, buf); err != nil {
			return 0, err
		}
		return int64(len(buf)) + 1, nil
	}

	if err := s.throttledWrite(ctx, rw, []byte{byte(wire.ModeFullFile)}); err != nil {
		return 0, err
	}
	if err := s.throttledWrite(ctx, rw, source); err != nil {
		return 0, err
	}
	return int64(len(source)) + 1, nil
}

func (s *Session) sendWholeFile(ctx context.Context, rw io.ReadWriter, path string, size int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, xferr.Wrap(xferr.Transient, "sender: open file", err)
	}
	defer f.Close()

	const chunkSize = 256 * 1024
	buf := make([]byte, chunkSize)
	var sent int64
	for sent < size {
		if ctx.Err() != nil {
			return sent, xferr.Wrap(xferr.Cancellation, "sender: canceled mid-file", ctx.Err())
		}
		n, err := f.Read(buf)
		if n > 0 {
			if s.Limiter != nil {
				if err := s.Limiter.Await(ctx, n); err != nil {
					return sent, xferr.Wrap(xferr.Cancellation, "sender: rate limiter canceled", err)
				}
			}
			if _, werr := rw.Write(buf[:n]); werr != nil {
				return sent, xferr.Wrap(xferr.Transient, "sender: write file bytes", werr)
			}
			sent += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return sent, xferr.Wrap(xferr.Transient, "sender: read file", err)
		}
	}
	return sent, nil
}

func (s *Session) throttledWrite(ctx context.Context, w io.Writer, data []byte) error {
	if s.Limiter != nil {
		if err := s.Limiter.Await(ctx, len(data)); err != nil {
			return xferr.Wrap(xferr.Cancellation, "sender: rate limiter canceled", err)
		}
	}
	_, err := w.Write(data)
	if err != nil {
		return xferr.Wrap(xferr.Transient, "sender: write", err)
	}
	return nil
}

// DialAndSend is a convenience wrapper: dial addr with the configured
// timeout, then run Send.
func DialAndSend(ctx context.Context, s *Session, addr string) (*wire.Complete, error) {
	dialer := net.Dialer{Timeout: s.Settings.DialTimeout}
	if dialer.Timeout <= 0 {
		dialer.Timeout = 5 * time.Second
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, xferr.Wrap(xferr.Transient, "sender: dial", err)
	}
	defer conn.Close()
	return s.Send(ctx, conn)
}

// DeriveKeyFromStore looks up a pairing key for addr.
func DeriveKeyFromStore(store pairing.KeyStore, addr string) (*[32]byte, bool) {
	key, ok := store.Lookup(addr)
	if !ok {
		return nil, false
	}
	return &key, true
}
