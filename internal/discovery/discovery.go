// Package discovery implements LAN peer discovery (§6.3): periodic UDP
// broadcast announcements and a TTL-evicting directory of peers seen on
// the network, observed by the sender and the swarm coordinator when
// picking transfer targets.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/nordicnode/steamroll/internal/retry"
	"github.com/nordicnode/steamroll/internal/syncmap"
)

// Port is the default UDP broadcast port.
const Port = 27050

// AnnounceInterval is how often this instance broadcasts its presence.
const AnnounceInterval = 5 * time.Second

// PeerTimeout is how long a peer is retained without a fresh
// announcement before eviction (§6.3 recommends >= 15s).
const PeerTimeout = 15 * time.Second

const magic = "STEAMROLL_DISCOVERY_V1"

// MessageType enumerates the discovery protocol's message kinds.
type MessageType string

const (
	Announce        MessageType = "Announce"
	TransferRequest MessageType = "TransferRequest"
	TransferAccept  MessageType = "TransferAccept"
	TransferReject  MessageType = "TransferReject"
)

// Message is the JSON payload broadcast or unicast over the discovery
// port.
type Message struct {
	Magic             string      `json:"Magic"`
	Type              MessageType `json:"Type"`
	PeerID            string      `json:"PeerId"`
	HostName          string      `json:"HostName"`
	TransferPort      int         `json:"TransferPort"`
	PackagedGameCount int         `json:"PackagedGameCount"`
	GameName          string      `json:"GameName,omitempty"`
	GameSize          int64       `json:"GameSize,omitempty"`
}

// Peer is one entry of the directory (§3): created on first
// announcement, TTL-evicted after PeerTimeout of silence.
type Peer struct {
	ID                string
	HostName          string
	Address           string
	TransferPort      int
	LastSeen          time.Time
	PackagedGameCount int
}

// Directory tracks peers seen via Announce messages.
type Directory struct {
	peers *syncmap.Map[string, Peer]
}

func NewDirectory() *Directory {
	return &Directory{peers: syncmap.New[string, Peer]()}
}

// Observe records or refreshes a peer from a received Announce message.
func (d *Directory) Observe(msg Message, fromAddr string) {
	d.peers.Put(msg.PeerID, Peer{
		ID:                msg.PeerID,
		HostName:          msg.HostName,
		Address:           fromAddr,
		TransferPort:      msg.TransferPort,
		LastSeen:          time.Now(),
		PackagedGameCount: msg.PackagedGameCount,
	})
}

// Peers returns every peer not yet expired.
func (d *Directory) Peers() []Peer {
	now := time.Now()
	snap := d.peers.Snapshot()
	out := make([]Peer, 0, len(snap))
	for _, p := range snap {
		if now.Sub(p.LastSeen) < PeerTimeout {
			out = append(out, p)
		}
	}
	return out
}

// Evict removes every peer whose last announcement is older than
// PeerTimeout. Callers run this on a periodic tick alongside Announcer.
func (d *Directory) Evict() {
	now := time.Now()
	for id, p := range d.peers.Snapshot() {
		if now.Sub(p.LastSeen) >= PeerTimeout {
			d.peers.Delete(id)
		}
	}
}

// Announcer periodically broadcasts this instance's presence on the LAN.
type Announcer struct {
	PeerID            string
	HostName          string
	TransferPort      int
	PackagedGameCount func() int
	BroadcastAddr     string // e.g. "255.255.255.255:27050"

	log *slog.Logger
}

// NewAnnouncer returns an Announcer with a freshly generated random UUID
// as its peer ID.
func NewAnnouncer(hostName string, transferPort int, countFn func() int, log *slog.Logger) *Announcer {
	if log == nil {
		log = slog.Default()
	}
	return &Announcer{
		PeerID:            uuid.NewString(),
		HostName:          hostName,
		TransferPort:      transferPort,
		PackagedGameCount: countFn,
		BroadcastAddr:     fmt.Sprintf("255.255.255.255:%d", Port),
		log:               log.With("component", "discovery"),
	}
}

// Run broadcasts an Announce message every AnnounceInterval until ctx is
// canceled.
func (a *Announcer) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	defer conn.Close()

	broadcastAddr, err := net.ResolveUDPAddr("udp4", a.BroadcastAddr)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()

	for {
		err := retry.Do(ctx, func(ctx context.Context) error {
			return a.announceOnce(conn, broadcastAddr)
		}, retry.WithLinearBackoff(3, 200*time.Millisecond)...)
		if err != nil {
			a.log.Warn("announce failed after retries", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Announcer) announceOnce(conn *net.UDPConn, addr *net.UDPAddr) error {
	count := 0
	if a.PackagedGameCount != nil {
		count = a.PackagedGameCount()
	}

	msg := Message{
		Magic:             magic,
		Type:              Announce,
		PeerID:            a.PeerID,
		HostName:          a.HostName,
		TransferPort:      a.TransferPort,
		PackagedGameCount: count,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(data, addr)
	return err
}

// Listener receives broadcast messages and feeds a Directory.
type Listener struct {
	dir *Directory
	log *slog.Logger
}

func NewListener(dir *Directory, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{dir: dir, log: log.With("component", "discovery")}
}

// Run listens on Port until ctx is canceled, feeding every valid Announce
// message into the directory.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("read failed", "error", err)
			continue
		}

		var msg Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.Magic != magic || msg.Type != Announce {
			continue
		}
		l.dir.Observe(msg, addr.IP.String())
	}
}
