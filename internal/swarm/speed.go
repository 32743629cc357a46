package swarm

import "sync"

// emaAlpha weights the most recent sample against the running average.
// A higher alpha makes the estimate react faster to a peer slowing down
// or speeding up, at the cost of more noise.
const emaAlpha = 0.3

// SpeedTracker maintains an exponential moving average of per-block
// throughput (bytes/second) for every peer in a swarm download, used by
// the work-stealing loop to pick the fastest available peer for a
// stalled block.
type SpeedTracker struct {
	mu     sync.Mutex
	speeds map[string]float64
}

func NewSpeedTracker() *SpeedTracker {
	return &SpeedTracker{speeds: make(map[string]float64)}
}

// Record folds one block's measured throughput into peer's running
// average.
func (t *SpeedTracker) Record(peer string, bytesPerSecond float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.speeds[peer]
	if !ok {
		t.speeds[peer] = bytesPerSecond
		return
	}
	t.speeds[peer] = emaAlpha*bytesPerSecond + (1-emaAlpha)*cur
}

// Fastest returns the peer with the highest measured speed among
// candidates, excluding exclude. ok is false if no candidate qualifies.
func (t *SpeedTracker) Fastest(candidates []string, exclude string) (peer string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := -1.0
	for _, c := range candidates {
		if c == exclude {
			continue
		}
		speed, known := t.speeds[c]
		if !known {
			speed = 0
		}
		if speed > best {
			best = speed
			peer = c
			ok = true
		}
	}
	return peer, ok
}
