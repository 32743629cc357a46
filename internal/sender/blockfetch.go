package sender

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/nordicnode/steamroll/internal/frame"
	"github.com/nordicnode/steamroll/internal/swarm"
	"github.com/nordicnode/steamroll/internal/wire"
	"github.com/nordicnode/steamroll/internal/xferr"
)

// PeerBlockFetcher implements swarm.BlockFetcher by opening a fresh
// TransferBlockRequest session against the given peer for every
// dequeued block (§4.10). One fetcher instance is scoped to a single
// remote file: RemotePath is relative to the package root the peer is
// serving from, matching the path the receiver's BlockRequest handler
// resolves against its destinationRoot argument.
type PeerBlockFetcher struct {
	GameName    string
	RemotePath  string
	DialTimeout time.Duration
}

var _ swarm.BlockFetcher = (*PeerBlockFetcher)(nil)

// FetchBlock dials peer, requests job's byte range, and returns the
// block's raw bytes.
func (f *PeerBlockFetcher) FetchBlock(ctx context.Context, peer string, job swarm.BlockJob) ([]byte, error) {
	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		return nil, xferr.Wrap(xferr.Transient, "sender: dial block peer", err)
	}
	defer conn.Close()

	header := wire.Header{
		Magic:        wire.MagicV1,
		GameName:     f.GameName,
		TotalFiles:   1,
		TotalSize:    job.Length,
		TransferType: wire.TransferBlockRequest,
		BlockOffset:  job.Offset,
		BlockLength:  job.Length,
	}
	if err := frame.Send(ctx, conn, header); err != nil {
		return nil, err
	}
	manifest := wire.Manifest{{Path: f.RemotePath, Size: job.Length}}
	if err := frame.Send(ctx, conn, manifest); err != nil {
		return nil, err
	}

	buf := make([]byte, job.Length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, xferr.Wrap(xferr.Transient, "sender: read block", err)
	}

	complete, ok, err := frame.Receive[wire.Complete](ctx, conn)
	if err != nil {
		return nil, err
	}
	if !ok || !complete.Success {
		return nil, xferr.New(xferr.Protocol, "sender: block request failed")
	}
	return buf, nil
}
