// Package resume implements the crash-safe transfer-state file (§4.7): a
// small JSON document recording which files of an in-progress package
// transfer have already landed, written atomically (temp file + rename)
// so a crash mid-write never leaves a corrupt state file.
package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// StateFileName is the hidden file written at the destination root.
const StateFileName = ".steamroll_transfer_state"

// MaxAge is how long a state file remains eligible for reuse without
// fresh activity.
const MaxAge = 24 * time.Hour

// State mirrors §3's TransferState: enough to resume a package transfer
// without rehashing or re-receiving any file already completed.
type State struct {
	GameName       string    `json:"game_name"`
	TotalFiles     int       `json:"total_files"`
	TotalSize      int64     `json:"total_size"`
	FilesCompleted int       `json:"files_completed"`
	BytesReceived  int64     `json:"bytes_received"`
	Completed      []string  `json:"completed_paths"`
	StartedAt      time.Time `json:"started_at"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
	Fingerprint    string    `json:"fingerprint"`

	completedSet map[string]struct{}
}

// ManifestEntry is the minimal shape resume needs from a manifest file
// entry to compute a fingerprint; it mirrors wire.FileEntry without
// importing it, to keep this package dependency-free of the wire format.
type ManifestEntry struct {
	Path string
	Size int64
	Hash string
}

// Fingerprint is the SHA-256 of the concatenated "path:size:hash" for
// every manifest entry, in path order, so two manifests describing the
// same content in a different transmission order still match.
func Fingerprint(entries []ManifestEntry) string {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s:%d:%s", e.Path, e.Size, e.Hash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// New starts fresh state for a transfer with the given fingerprint.
func New(gameName string, totalFiles int, totalSize int64, fingerprint string) *State {
	now := time.Now()
	return &State{
		GameName:      gameName,
		TotalFiles:    totalFiles,
		TotalSize:     totalSize,
		StartedAt:     now,
		LastUpdatedAt: now,
		Fingerprint:   fingerprint,
		completedSet:  make(map[string]struct{}),
	}
}

// Path returns the state file path for a destination root.
func Path(destinationRoot string) string {
	return filepath.Join(destinationRoot, StateFileName)
}

// Load reads and parses the state file at destinationRoot, if any. A
// missing file is not an error: (nil, nil) is returned.
func Load(destinationRoot string) (*State, error) {
	data, err := os.ReadFile(Path(destinationRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.completedSet = make(map[string]struct{}, len(s.Completed))
	for _, p := range s.Completed {
		s.completedSet[p] = struct{}{}
	}
	return &s, nil
}

// Usable reports whether s can be resumed against an incoming manifest
// with the given fingerprint: the fingerprint must match and the state
// must not have expired.
func (s *State) Usable(fingerprint string) bool {
	if s == nil {
		return false
	}
	if s.Fingerprint != fingerprint {
		return false
	}
	return time.Since(s.LastUpdatedAt) < MaxAge
}

// IsCompleted reports whether relPath was already received in a prior
// attempt.
func (s *State) IsCompleted(relPath string) bool {
	if s == nil {
		return false
	}
	_, ok := s.completedSet[relPath]
	return ok
}

// MarkCompleted records relPath as fully received and bumps the running
// totals. Per §4.7, callers insert the path before continuing to the
// next file so a crash mid-stream loses at most the in-progress file.
func (s *State) MarkCompleted(relPath string, size int64) {
	if s.completedSet == nil {
		s.completedSet = make(map[string]struct{})
	}
	if _, ok := s.completedSet[relPath]; ok {
		return
	}
	s.completedSet[relPath] = struct{}{}
	s.Completed = append(s.Completed, relPath)
	s.FilesCompleted++
	s.BytesReceived += size
	s.LastUpdatedAt = time.Now()
}

// Save atomically persists s to destinationRoot: it serializes to a
// sibling ".tmp" file, fsyncs it, then renames over the real path so a
// crash during the write never produces a half-written state file.
func (s *State) Save(destinationRoot string) error {
	s.LastUpdatedAt = time.Now()

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	finalPath := Path(destinationRoot)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, finalPath)
}

// Delete removes the state file, ignoring a not-exist error; called on
// clean completion and on fingerprint mismatch.
func Delete(destinationRoot string) error {
	err := os.Remove(Path(destinationRoot))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
