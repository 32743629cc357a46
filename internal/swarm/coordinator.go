// Package swarm implements the multi-source block-parallel download mode
// (§4.10): a file is split into fixed-size blocks, a coordinator hands
// blocks out to connected peers, and a work-stealing loop reassigns
// blocks whose assignee has stalled.
package swarm

import (
	"sync"
	"time"

	"github.com/nordicnode/steamroll/internal/swarm/bitfield"
)

// BlockSize is the fixed block granularity for swarm downloads.
const BlockSize = 4 * 1024 * 1024

// MaxRetryAttempts bounds how many times a block may be requeued before
// it is permanently abandoned.
const MaxRetryAttempts = 3

// StallTimeout is how long a block may sit in-flight before the
// work-stealing loop considers it stalled.
const StallTimeout = 30 * time.Second

// MaxConcurrentPeers bounds how many peer workers the General drives at
// once.
const MaxConcurrentPeers = 8

// JobState is a BlockJob's position in the state machine.
type JobState int

const (
	Pending JobState = iota
	InFlight
	Completed
	Abandoned
)

// BlockJob is one block of a swarm download.
type BlockJob struct {
	Index          int
	Offset         int64
	Length         int64
	State          JobState
	AssignedPeer   string
	AssignmentTime time.Time
	FailedAttempts int
}

// CreateJobs partitions a file of the given size into BlockSize blocks;
// the last block may be shorter. Every job starts Pending.
func CreateJobs(size int64) []BlockJob {
	count := int((size + BlockSize - 1) / BlockSize)
	jobs := make([]BlockJob, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * BlockSize
		length := int64(BlockSize)
		if remaining := size - offset; remaining < length {
			length = remaining
		}
		jobs[i] = BlockJob{Index: i, Offset: offset, Length: length, State: Pending}
	}
	return jobs
}

// Coordinator tracks block state across a swarm download: a pending
// queue, an in-flight map keyed by block index, and a completed bitfield
// so a reader can cheaply check whether a given block's region of the
// output file has landed (§5: mark_complete happens-before any reader
// observing that region).
type Coordinator struct {
	mu        sync.Mutex
	pending   []int
	jobs      map[int]*BlockJob
	completed bitfield.Bitfield
}

// NewCoordinator builds a Coordinator from CreateJobs' output, with every
// job enqueued to pending in index order.
func NewCoordinator(jobs []BlockJob) *Coordinator {
	c := &Coordinator{
		jobs:      make(map[int]*BlockJob, len(jobs)),
		completed: bitfield.New(len(jobs)),
	}
	for i := range jobs {
		j := jobs[i]
		c.jobs[j.Index] = &j
		c.pending = append(c.pending, j.Index)
	}
	return c
}

// Dequeue atomically pops the next pending block, stamps it with peer and
// the current time, and moves it to in-flight. ok is false once pending
// is empty.
func (c *Coordinator) Dequeue(peer string) (job BlockJob, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return BlockJob{}, false
	}

	idx := c.pending[0]
	c.pending = c.pending[1:]

	j := c.jobs[idx]
	j.State = InFlight
	j.AssignedPeer = peer
	j.AssignmentTime = time.Now()
	return *j, true
}

// MarkComplete moves a block from in-flight to completed.
func (c *Coordinator) MarkComplete(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[index]
	if !ok {
		return
	}
	j.State = Completed
	c.completed.Set(index)
}

// IsComplete reports whether index has landed in the output file, for a
// reader that wants to cheaply check one block's region without taking
// the writer's own lock.
func (c *Coordinator) IsComplete(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed.Has(index)
}

// MarkFailed increments the block's failure count; if still below
// MaxRetryAttempts it is requeued to pending, otherwise permanently
// abandoned. A block that already reached Completed is left alone: with
// work-stealing, a losing racer's failure can arrive after the winner's
// success, and that must not regress a landed block back to Pending.
func (c *Coordinator) MarkFailed(index int) (abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[index]
	if !ok || j.State == Completed || j.State == Abandoned {
		return false
	}
	j.FailedAttempts++
	if j.FailedAttempts >= MaxRetryAttempts {
		j.State = Abandoned
		return true
	}
	j.State = Pending
	j.AssignedPeer = ""
	c.pending = append(c.pending, index)
	return false
}

// Reassign is valid only while a block is in-flight: it updates the
// assignment to newPeer speculatively, without disturbing the original
// assignee's ability to still complete it and win the race.
func (c *Coordinator) Reassign(index int, newPeer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[index]
	if !ok || j.State != InFlight {
		return false
	}
	j.AssignedPeer = newPeer
	j.AssignmentTime = time.Now()
	return true
}

// Stalled returns every in-flight block whose assignment is older than
// StallTimeout.
func (c *Coordinator) Stalled() []BlockJob {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var out []BlockJob
	for _, j := range c.jobs {
		if j.State == InFlight && now.Sub(j.AssignmentTime) > StallTimeout {
			out = append(out, *j)
		}
	}
	return out
}

// Done reports whether every block has reached Completed.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed.Count() == len(c.jobs)
}

// AnyAbandoned reports whether any block was permanently abandoned,
// meaning the swarm result as a whole is a failure.
func (c *Coordinator) AnyAbandoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.jobs {
		if j.State == Abandoned {
			return true
		}
	}
	return false
}
