package discovery

import (
	"testing"
	"time"
)

func TestDirectoryObserveAndPeers(t *testing.T) {
	d := NewDirectory()
	d.Observe(Message{
		PeerID:       "peer-1",
		HostName:     "desktop-a",
		TransferPort: 27051,
	}, "192.168.1.5")

	peers := d.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if peers[0].ID != "peer-1" || peers[0].Address != "192.168.1.5" {
		t.Fatalf("unexpected peer: %+v", peers[0])
	}
}

func TestDirectoryEvictKeepsFreshPeers(t *testing.T) {
	d := NewDirectory()
	d.Observe(Message{PeerID: "stale"}, "10.0.0.1")

	// Observe always stamps now(), and waiting out PeerTimeout is
	// impractical in a unit test, so this only exercises Evict's no-op
	// path on a fresh peer and Peers()'s TTL filter on that peer.
	peers := d.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected fresh peer to remain, got %d", len(peers))
	}

	d.Evict()
	if len(d.Peers()) != 1 {
		t.Fatal("Evict should not remove a peer seen moments ago")
	}
}

func TestDirectoryObserveRefreshesExisting(t *testing.T) {
	d := NewDirectory()
	d.Observe(Message{PeerID: "peer-1", PackagedGameCount: 3}, "10.0.0.2")
	d.Observe(Message{PeerID: "peer-1", PackagedGameCount: 5}, "10.0.0.2")

	peers := d.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected single entry after refresh, got %d", len(peers))
	}
	if peers[0].PackagedGameCount != 5 {
		t.Fatalf("expected refreshed count 5, got %d", peers[0].PackagedGameCount)
	}
}

func TestPeerTimeoutConstant(t *testing.T) {
	if PeerTimeout < 15*time.Second {
		t.Fatalf("PeerTimeout must be at least 15s per spec, got %v", PeerTimeout)
	}
}
