package swarm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// BlockFetcher requests one block from peer and returns its bytes. Sender
// connections, retry, and rate limiting are the caller's concern; General
// only calls this once per dequeued block and interprets the error.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, peer string, job BlockJob) ([]byte, error)
}

// idlePoll is how often an idle worker re-checks the pending queue
// between attempts, so it stays available to receive a stolen block
// instead of spinning.
const idlePoll = 50 * time.Millisecond

// General orchestrates up to MaxConcurrentPeers workers pulling blocks
// for a single swarm download.
type General struct {
	Coordinator *Coordinator
	Writer      *RandomAccessWriter
	Speeds      *SpeedTracker
	Fetcher     BlockFetcher
	Peers       []string
	Log         *slog.Logger

	steal map[string]chan BlockJob
}

// NewGeneral wires the pieces of one swarm download together.
func NewGeneral(coord *Coordinator, writer *RandomAccessWriter, fetcher BlockFetcher, peers []string, log *slog.Logger) *General {
	if log == nil {
		log = slog.Default()
	}
	return &General{
		Coordinator: coord,
		Writer:      writer,
		Speeds:      NewSpeedTracker(),
		Fetcher:     fetcher,
		Peers:       peers,
		Log:         log.With("component", "swarm"),
	}
}

// Run drives one worker per peer (capped at MaxConcurrentPeers) plus a
// 5-second work-stealing loop, until every block is completed, one is
// permanently abandoned, or ctx is canceled.
func (g *General) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount := len(g.Peers)
	if workerCount > MaxConcurrentPeers {
		workerCount = MaxConcurrentPeers
	}
	workers := g.Peers[:workerCount]

	g.steal = make(map[string]chan BlockJob, workerCount)
	for _, peer := range workers {
		g.steal[peer] = make(chan BlockJob, 1)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	for _, peer := range workers {
		peer := peer
		eg.Go(func() error {
			g.workerLoop(egCtx, peer)
			return nil
		})
	}

	eg.Go(func() error {
		g.stealWorkLoop(egCtx, workers)
		return nil
	})

	eg.Go(func() error {
		return g.waitForCompletion(egCtx, cancel)
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	if g.Coordinator.AnyAbandoned() {
		return errAbandoned
	}
	return nil
}

var errAbandoned = errors.New("swarm: one or more blocks permanently abandoned")

// workerLoop drives one peer: fetch a stolen block if one is waiting,
// otherwise dequeue the next pending block, otherwise idle-poll so the
// worker remains available to receive a block stolen from a stalled
// peer. It only returns when ctx is canceled (Run cancels it once the
// coordinator is done or a block is permanently abandoned), since an
// empty pending queue does not mean there is no more work this peer
// could still be asked to do.
func (g *General) workerLoop(ctx context.Context, peer string) {
	steal := g.steal[peer]

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-steal:
			g.fetchAndStore(ctx, peer, job)
			continue
		default:
		}

		if job, ok := g.Coordinator.Dequeue(peer); ok {
			g.fetchAndStore(ctx, peer, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case job := <-steal:
			g.fetchAndStore(ctx, peer, job)
		case <-time.After(idlePoll):
		}
	}
}

// fetchAndStore requests job from peer, writes it, and records the
// result with the coordinator and speed tracker.
func (g *General) fetchAndStore(ctx context.Context, peer string, job BlockJob) {
	start := time.Now()
	data, err := g.Fetcher.FetchBlock(ctx, peer, job)
	if err != nil {
		g.Log.Warn("block fetch failed", "peer", peer, "block", job.Index, "error", err)
		g.Coordinator.MarkFailed(job.Index)
		return
	}

	if err := g.Writer.WriteAt(data, job.Offset); err != nil {
		g.Log.Warn("block write failed", "peer", peer, "block", job.Index, "error", err)
		g.Coordinator.MarkFailed(job.Index)
		return
	}

	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		g.Speeds.Record(peer, float64(len(data))/elapsed)
	}
	g.Coordinator.MarkComplete(job.Index)
}

// stealWorkLoop reassigns every stalled block to the fastest connected
// worker peer other than its current assignee, and pushes the job onto
// that peer's steal channel so its workerLoop actually races to fetch it
// (§4.10: reassignment is speculative, so the original assignee may
// still win). If the target peer's steal slot is already occupied by
// another stolen block, this reassignment is skipped until next tick.
func (g *General) stealWorkLoop(ctx context.Context, workers []string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, job := range g.Coordinator.Stalled() {
				fastest, ok := g.Speeds.Fastest(workers, job.AssignedPeer)
				if !ok {
					continue
				}
				if !g.Coordinator.Reassign(job.Index, fastest) {
					continue
				}
				select {
				case g.steal[fastest] <- job:
				default:
				}
			}
		}
	}
}

func (g *General) waitForCompletion(ctx context.Context, cancel context.CancelFunc) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.Coordinator.Done() || g.Coordinator.AnyAbandoned() {
				cancel()
				return nil
			}
		}
	}
}
