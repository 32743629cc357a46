package swarm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFetcher struct {
	calls int32
}

func (f *fakeFetcher) FetchBlock(ctx context.Context, peer string, job BlockJob) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	return bytes.Repeat([]byte{0xCD}, int(job.Length)), nil
}

type perPeerFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func newPerPeerFetcher() *perPeerFetcher {
	return &perPeerFetcher{calls: make(map[string]int)}
}

func (f *perPeerFetcher) FetchBlock(ctx context.Context, peer string, job BlockJob) ([]byte, error) {
	f.mu.Lock()
	f.calls[peer]++
	f.mu.Unlock()
	return bytes.Repeat([]byte{0xAB}, int(job.Length)), nil
}

func (f *perPeerFetcher) callsFor(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[peer]
}

func TestGeneralRunCompletesAllBlocks(t *testing.T) {
	size := int64(3 * BlockSize)
	path := filepath.Join(t.TempDir(), "swarm-out.bin")

	writer, err := NewRandomAccessWriter(path, size)
	if err != nil {
		t.Fatal(err)
	}

	coord := NewCoordinator(CreateJobs(size))
	fetcher := &fakeFetcher{}
	g := NewGeneral(coord, writer, fetcher, []string{"peer-a", "peer-b"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	if !coord.Done() {
		t.Fatal("expected all blocks completed")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != size {
		t.Fatalf("expected final size %d, got %d", size, info.Size())
	}
}

// TestStalledBlockStolenBySecondPeer simulates a block that stalled with
// its original assignee and asserts the work-stealing path actually
// causes a second, faster peer to fetch it — not just update bookkeeping.
// It backdates the assignment directly (package-internal field access)
// rather than waiting out the real StallTimeout, and drives the same
// Stalled/Fastest/Reassign sequence stealWorkLoop runs on its ticker,
// since that ticker's real 5-second period would make the test slow.
func TestStalledBlockStolenBySecondPeer(t *testing.T) {
	size := int64(BlockSize)
	path := filepath.Join(t.TempDir(), "swarm-steal.bin")

	writer, err := NewRandomAccessWriter(path, size)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	coord := NewCoordinator(CreateJobs(size))
	fetcher := newPerPeerFetcher()
	g := NewGeneral(coord, writer, fetcher, []string{"peer-a", "peer-b"}, nil)
	g.steal = map[string]chan BlockJob{
		"peer-a": make(chan BlockJob, 1),
		"peer-b": make(chan BlockJob, 1),
	}
	g.Speeds.Record("peer-b", 1_000_000)

	job, ok := coord.Dequeue("peer-a")
	if !ok {
		t.Fatal("expected a job")
	}

	coord.mu.Lock()
	coord.jobs[job.Index].AssignmentTime = time.Now().Add(-2 * StallTimeout)
	coord.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go g.workerLoop(ctx, "peer-b")

	stalled := coord.Stalled()
	if len(stalled) != 1 {
		t.Fatalf("expected 1 stalled block, got %d", len(stalled))
	}
	fastest, ok := g.Speeds.Fastest(g.Peers, stalled[0].AssignedPeer)
	if !ok || fastest != "peer-b" {
		t.Fatalf("expected peer-b chosen as fastest, got %q ok=%v", fastest, ok)
	}
	if !coord.Reassign(stalled[0].Index, fastest) {
		t.Fatal("expected reassign of in-flight block to succeed")
	}
	select {
	case g.steal[fastest] <- stalled[0]:
	default:
		t.Fatal("expected steal channel to accept the job")
	}

	deadline := time.After(time.Second)
	for fetcher.callsFor("peer-b") == 0 {
		select {
		case <-deadline:
			t.Fatal("expected peer-b to actually fetch the stolen block")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !coord.IsComplete(job.Index) {
		t.Fatal("expected stolen block to complete once fetched")
	}
}
