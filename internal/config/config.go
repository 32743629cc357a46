// Package config defines the Settings consumed by the core (§6.4). The
// surrounding application (GUI shell, Steam library scanner, etc.) owns
// persistence; this package only defines the shape and sane defaults,
// following the teacher's grouped, doc-commented Config/DefaultConfig
// pattern.
package config

import (
	"time"
)

// Settings holds every option the transfer core reads. Fields map
// one-to-one onto §6.4's recognized options.
type Settings struct {
	// ========== Networking ==========

	// TransferPort is the TCP port this instance listens on for incoming
	// transfer connections.
	TransferPort int

	// DiscoveryPort is the UDP port used for presence announcements
	// (§6.3).
	DiscoveryPort int

	// ========== Rate limiting ==========

	// TransferSpeedLimitBps caps outbound transfer speed in bytes/second.
	// 0 means unlimited.
	TransferSpeedLimitBps int64

	// ========== Feature flags ==========

	// EnableCompression selects the V2 magic and the header's GZip flag
	// when no encryption is required. File bytes are still sent
	// uncompressed.
	EnableCompression bool

	// RequireEncryption demands AES-256-GCM (V3) for every session. If
	// no paired key exists for the target, the sender must fail rather
	// than silently fall back to plaintext (§4.5 Policy).
	RequireEncryption bool

	// ========== Identity ==========

	// DeviceID uniquely identifies this instance; it is the identity each
	// side sends in the V3 handshake. Discovery advertises a separately
	// generated random peer ID, not this value.
	DeviceID string

	// ========== Delta / Swarm tuning ==========

	// DefaultBlockSize is the delta engine's signature block size. 0
	// uses the spec default of 64 KiB.
	DefaultBlockSize int

	// SwarmBlockSize is the swarm coordinator's block size. 0 uses the
	// spec default of 4 MiB.
	SwarmBlockSize int

	// MaxConcurrentPeers bounds how many peers the swarm General will
	// drive workers against simultaneously.
	MaxConcurrentPeers int

	// ========== Timeouts (not in §6.4 but required by §5) ==========

	DialTimeout     time.Duration
	FrameTimeout    time.Duration
	ReadIdleTimeout time.Duration
}

const (
	DefaultTransferPort      = 27051
	DefaultDiscoveryPort     = 27050
	DefaultBlockSize         = 64 * 1024
	DefaultSwarmBlockSize    = 4 * 1024 * 1024
	DefaultMaxConcurrentPeers = 8
)

// DefaultSettings returns sane defaults for most use cases. Callers
// override only the fields they care about.
func DefaultSettings() Settings {
	return Settings{
		TransferPort:          DefaultTransferPort,
		DiscoveryPort:         DefaultDiscoveryPort,
		TransferSpeedLimitBps: 0,
		EnableCompression:     false,
		RequireEncryption:     false,
		DefaultBlockSize:      DefaultBlockSize,
		SwarmBlockSize:        DefaultSwarmBlockSize,
		MaxConcurrentPeers:    DefaultMaxConcurrentPeers,
		DialTimeout:           5 * time.Second,
		FrameTimeout:          60 * time.Second,
		ReadIdleTimeout:       30 * time.Second,
	}
}

// BlockSize returns the effective delta block size, applying the spec
// default when unset.
func (s Settings) BlockSize() int {
	if s.DefaultBlockSize <= 0 {
		return DefaultBlockSize
	}
	return s.DefaultBlockSize
}

// SwarmBlockSizeOrDefault returns the effective swarm block size, applying
// the spec default (4 MiB) when unset.
func (s Settings) SwarmBlockSizeOrDefault() int {
	if s.SwarmBlockSize <= 0 {
		return DefaultSwarmBlockSize
	}
	return s.SwarmBlockSize
}

// MaxConcurrentPeersOrDefault returns the effective worker cap, applying
// the spec default (8) when unset.
func (s Settings) MaxConcurrentPeersOrDefault() int {
	if s.MaxConcurrentPeers <= 0 {
		return DefaultMaxConcurrentPeers
	}
	return s.MaxConcurrentPeers
}
