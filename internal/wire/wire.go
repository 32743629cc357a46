// Package wire defines the on-the-wire message types exchanged over a
// transfer connection (§6.2): the versioned header, the file manifest,
// the receiver's acknowledgment, and the completion frame. Every type
// here is transmitted as a single length-prefixed JSON frame via
// internal/frame.
package wire

// Magic identifies the protocol version in use, selecting which wrapper
// (if any) sits between the frame layer and the raw connection.
type Magic string

const (
	MagicV1 Magic = "STEAMROLL_TRANSFER_V1" // plain
	MagicV2 Magic = "STEAMROLL_TRANSFER_V2" // + GZip
	MagicV3 Magic = "STEAMROLL_TRANSFER_V3" // + AES-256-GCM
)

// TransferType selects the receiver-side handler for a session.
type TransferType string

const (
	TransferPackage      TransferType = "Package"
	TransferSaveSync     TransferType = "SaveSync"
	TransferListRequest  TransferType = "ListRequest"
	TransferPullRequest  TransferType = "PullRequest"
	TransferSpeedTest    TransferType = "SpeedTest"
	TransferBlockRequest TransferType = "BlockRequest"
)

// Compression identifies the in-stream compression applied to file
// bytes, independent of which Magic selected the session.
type Compression string

const (
	CompressionNone Compression = "None"
	CompressionGZip Compression = "GZip"
)

// Header is the first frame of every session.
type Header struct {
	Magic         Magic        `json:"magic"`
	GameName      string       `json:"game_name"`
	TotalFiles    int          `json:"total_files"`
	TotalSize     int64        `json:"total_size"`
	TransferType  TransferType `json:"transfer_type"`
	Compression   Compression  `json:"compression"`
	SupportsDelta bool         `json:"supports_delta"`
	IsReceived    bool         `json:"is_received"`

	// BlockOffset and BlockLength are only meaningful for
	// TransferBlockRequest sessions (§4.10): the manifest's single entry
	// names the file, these name the byte range within it.
	BlockOffset int64 `json:"block_offset,omitempty"`
	BlockLength int64 `json:"block_length,omitempty"`
}

// FileEntry describes one file of the manifest sent after the header.
type FileEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	UseDelta bool   `json:"use_delta"`
}

// Manifest is the FileEntry[] frame.
type Manifest []FileEntry

// TotalSize returns the sum of every entry's size, used to validate
// against the header's TotalSize (§3 invariant).
func (m Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m {
		n += e.Size
	}
	return n
}

// ACK is the receiver's single reply to a manifest.
type ACK struct {
	Accepted         bool              `json:"accepted"`
	Reason           string            `json:"reason,omitempty"`
	Skipped          []string          `json:"skipped"`
	SupportsDelta    bool              `json:"supports_delta"`
	DeltaSignatures  map[string][]byte `json:"delta_signatures,omitempty"`
}

// IsSkipped reports whether relPath is in the skip list.
func (a *ACK) IsSkipped(relPath string) bool {
	for _, p := range a.Skipped {
		if p == relPath {
			return true
		}
	}
	return false
}

// HasDeltaSignatures reports whether relPath has delta signatures in the
// ACK, and returns the serialized signature bytes (internal/delta's wire
// form) if so.
func (a *ACK) HasDeltaSignatures(relPath string) ([]byte, bool) {
	b, ok := a.DeltaSignatures[relPath]
	return b, ok
}

// FileMode tags the per-file payload that follows a manifest entry the
// ACK offered delta signatures for (§6.2 step 4).
type FileMode byte

const (
	ModeFullFile FileMode = 0x00
	ModeDelta    FileMode = 0x01
)

// PackageSummary is one entry of a ListRequest response: enough for the
// requester to pick a game and issue a PullRequest for it.
type PackageSummary struct {
	Name  string `json:"name"`
	AppID int    `json:"app_id"`
	Size  int64  `json:"size"`
}

// PackageList is the frame a ListRequest session replies with (§4.9).
type PackageList []PackageSummary

// Complete is the final frame of a session, sent by the receiver.
type Complete struct {
	Success       bool     `json:"success"`
	FilesReceived int      `json:"files_received"`
	BytesReceived int64    `json:"bytes_received"`
	Failed        []string `json:"failed,omitempty"`
	Message       string   `json:"message,omitempty"`
}
