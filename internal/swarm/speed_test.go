package swarm

import "testing"

func TestSpeedTrackerFastest(t *testing.T) {
	s := NewSpeedTracker()
	s.Record("peer-a", 1_000_000)
	s.Record("peer-b", 5_000_000)

	fastest, ok := s.Fastest([]string{"peer-a", "peer-b"}, "")
	if !ok || fastest != "peer-b" {
		t.Fatalf("expected peer-b, got %q ok=%v", fastest, ok)
	}
}

func TestSpeedTrackerExcludesOriginal(t *testing.T) {
	s := NewSpeedTracker()
	s.Record("peer-a", 1_000_000)
	s.Record("peer-b", 5_000_000)

	fastest, ok := s.Fastest([]string{"peer-a", "peer-b"}, "peer-b")
	if !ok || fastest != "peer-a" {
		t.Fatalf("expected peer-a after excluding peer-b, got %q ok=%v", fastest, ok)
	}
}

func TestSpeedTrackerEMAConverges(t *testing.T) {
	s := NewSpeedTracker()
	for i := 0; i < 50; i++ {
		s.Record("peer-a", 1000)
	}
	fastest, ok := s.Fastest([]string{"peer-a"}, "")
	if !ok {
		t.Fatal("expected a result")
	}
	if fastest != "peer-a" {
		t.Fatalf("got %q", fastest)
	}
	if s.speeds["peer-a"] < 990 || s.speeds["peer-a"] > 1010 {
		t.Fatalf("expected EMA to converge near 1000, got %f", s.speeds["peer-a"])
	}
}

func TestFastestNoCandidatesKnown(t *testing.T) {
	s := NewSpeedTracker()
	_, ok := s.Fastest([]string{"peer-a"}, "peer-a")
	if ok {
		t.Fatal("expected no candidate after excluding the only peer")
	}
}
