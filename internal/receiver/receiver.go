// Package receiver implements the inbound half of a transfer session
// (§4.9): header validation, optional V3 handshake, manifest reception,
// smart-sync analysis, per-file reception with incremental hashing, and
// resume-state persistence.
package receiver

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nordicnode/steamroll/internal/config"
	"github.com/nordicnode/steamroll/internal/crypto"
	"github.com/nordicnode/steamroll/internal/delta"
	"github.com/nordicnode/steamroll/internal/frame"
	"github.com/nordicnode/steamroll/internal/hashutil"
	"github.com/nordicnode/steamroll/internal/metadata"
	"github.com/nordicnode/steamroll/internal/pairing"
	"github.com/nordicnode/steamroll/internal/pathsafe"
	"github.com/nordicnode/steamroll/internal/resume"
	"github.com/nordicnode/steamroll/internal/swarm"
	"github.com/nordicnode/steamroll/internal/wire"
	"github.com/nordicnode/steamroll/internal/xferr"
)

// DiskSpaceBuffer is added to the manifest total when checking available
// space (§4.9).
const DiskSpaceBuffer = 500 * 1024 * 1024

// ResumeSaveInterval is the minimum cadence for persisting resume state
// during reception (§4.7).
const ResumeSaveInterval = 5 * time.Second

// ApprovalTimeout is how long Handler waits for an external approval
// decision before defaulting to reject (§4.9).
const ApprovalTimeout = 60 * time.Second

// ApprovalRequest is published to an external collaborator (a UI) that
// resolves it by sending on Decision, or lets ApprovalTimeout fire.
type ApprovalRequest struct {
	GameName   string
	TotalFiles int
	TotalSize  int64
	Decision   chan bool
}

// ApprovalFunc receives an ApprovalRequest and must eventually send
// exactly once on req.Decision, or the caller times out and treats it as
// a rejection.
type ApprovalFunc func(req ApprovalRequest)

// ListProvider answers a ListRequest session by returning the packages
// this endpoint can currently serve. It is an external collaborator
// (the library index lives outside the transfer subsystem, §1); a nil
// ListProvider answers every ListRequest with an empty list.
type ListProvider func(ctx context.Context) (wire.PackageList, error)

// PullHandler answers a PullRequest session by arranging an outbound
// send of gameName back to remoteAddr (typically by dialing it with a
// sender.Session from the surrounding application). The push itself
// happens as a fresh connection; this session only reports whether the
// request was accepted.
type PullHandler func(ctx context.Context, gameName, remoteAddr string) error

// Handler serves inbound transfer connections.
type Handler struct {
	Settings     config.Settings
	KeyStore     pairing.KeyStore
	OnApproval   ApprovalFunc
	ListProvider ListProvider
	PullHandler  PullHandler
	Log          *slog.Logger

	locks *destLocks
}

// NewHandler wires a Handler; KeyStore may be nil if V3 sessions are
// never expected.
func NewHandler(settings config.Settings, keyStore pairing.KeyStore, onApproval ApprovalFunc, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Settings:   settings,
		KeyStore:   keyStore,
		OnApproval: onApproval,
		Log:        log.With("component", "receiver"),
		locks:      newDestLocks(),
	}
}

// Handle serves one inbound connection to completion. destinationRoot is
// where Package transfers land; it is ignored for transfer types that
// don't write a package.
func (h *Handler) Handle(ctx context.Context, rawConn io.ReadWriteCloser, remoteAddr string, destinationRoot string) error {
	header, ok, err := frame.Receive[wire.Header](ctx, rawConn)
	if err != nil {
		return err
	}
	if !ok {
		return xferr.New(xferr.Protocol, "receiver: no header received")
	}
	if header.Magic != wire.MagicV1 && header.Magic != wire.MagicV2 && header.Magic != wire.MagicV3 {
		return xferr.New(xferr.Protocol, "receiver: unknown magic")
	}

	var rw io.ReadWriter = rawConn
	if header.Magic == wire.MagicV3 {
		if h.KeyStore == nil {
			return xferr.New(xferr.Auth, "receiver: encryption required but no key store configured")
		}
		key, ok := h.KeyStore.Lookup(remoteAddr)
		if !ok {
			return xferr.New(xferr.Auth, "receiver: no paired key for "+remoteAddr)
		}
		deviceID := h.Settings.DeviceID
		if _, err := crypto.ResponderHandshake(rawConn, key, deviceID); err != nil {
			return xferr.Wrap(xferr.Auth, "receiver: handshake failed", err)
		}
		recWriter, err := crypto.NewRecordWriter(rawConn, key, crypto.DefaultRecordSize)
		if err != nil {
			return xferr.Wrap(xferr.Auth, "receiver: record writer", err)
		}
		recReader, err := crypto.NewRecordReader(rawConn, key)
		if err != nil {
			return xferr.Wrap(xferr.Auth, "receiver: record reader", err)
		}
		rw = struct {
			io.Reader
			io.Writer
		}{recReader, recWriter}
	}

	manifest, ok, err := frame.Receive[wire.Manifest](ctx, rw)
	if err != nil {
		return err
	}
	if !ok {
		return xferr.New(xferr.Protocol, "receiver: no manifest received")
	}
	if manifest.TotalSize() != header.TotalSize {
		ack := wire.ACK{Accepted: false, Reason: "manifest size does not match header"}
		frame.Send(ctx, rw, ack)
		return xferr.New(xferr.Protocol, "receiver: header/manifest size mismatch")
	}

	switch header.TransferType {
	case wire.TransferPackage:
		return h.handlePackage(ctx, rw, remoteAddr, destinationRoot, header, manifest)
	case wire.TransferSpeedTest:
		return h.handleSpeedTest(ctx, rw, header)
	case wire.TransferSaveSync:
		return h.handleSaveSync(ctx, rw, destinationRoot, manifest)
	case wire.TransferListRequest:
		return h.handleListRequest(ctx, rw)
	case wire.TransferPullRequest:
		return h.handlePullRequest(ctx, rw, remoteAddr, header)
	case wire.TransferBlockRequest:
		return h.handleBlockRequest(ctx, rw, destinationRoot, header, manifest)
	default:
		ack := wire.ACK{Accepted: false, Reason: "unsupported transfer type"}
		frame.Send(ctx, rw, ack)
		return xferr.New(xferr.Protocol, "receiver: unsupported transfer type "+string(header.TransferType))
	}
}

// handleSaveSync treats the bundled payload as opaque bytes (§4.9): no
// per-entry hashing or delta, just a straight write through a temp file
// so a crash mid-write never leaves a half-written save in place.
func (h *Handler) handleSaveSync(ctx context.Context, rw io.ReadWriter, destinationRoot string, manifest wire.Manifest) error {
	if len(manifest) != 1 {
		return xferr.New(xferr.Protocol, "receiver: save sync expects exactly one manifest entry")
	}
	entry := manifest[0]
	if err := pathsafe.Validate(entry.Path); err != nil {
		return xferr.Wrap(xferr.Path, "receiver: unsafe save path "+entry.Path, err)
	}

	fullPath := filepath.Join(destinationRoot, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return xferr.Wrap(xferr.Resource, "receiver: mkdir", err)
	}

	tmpPath := fullPath + ".steamroll-tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return xferr.Wrap(xferr.Resource, "receiver: create save file", err)
	}
	if _, err := io.Copy(f, frame.ExactReader(rw, entry.Size)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return xferr.Wrap(xferr.Transient, "receiver: save sync read", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return xferr.Wrap(xferr.Resource, "receiver: close save file", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return xferr.Wrap(xferr.Resource, "receiver: rename save file", err)
	}

	return frame.Send(ctx, rw, wire.Complete{Success: true, FilesReceived: 1, BytesReceived: entry.Size})
}

// handleListRequest queries the configured library provider and writes
// a list frame (§4.9).
func (h *Handler) handleListRequest(ctx context.Context, rw io.ReadWriter) error {
	var list wire.PackageList
	if h.ListProvider != nil {
		got, err := h.ListProvider(ctx)
		if err != nil {
			return xferr.Wrap(xferr.Transient, "receiver: list provider", err)
		}
		list = got
	}
	return frame.Send(ctx, rw, list)
}

// handlePullRequest asks the configured PullHandler to push gameName
// back to remoteAddr (§4.9). The push itself is a fresh outbound
// connection the PullHandler is responsible for dialing; this session
// only reports whether the request was accepted.
func (h *Handler) handlePullRequest(ctx context.Context, rw io.ReadWriter, remoteAddr string, header wire.Header) error {
	if h.PullHandler == nil {
		return frame.Send(ctx, rw, wire.Complete{Success: false, Message: "pull requests not supported"})
	}
	if err := h.PullHandler(ctx, header.GameName, remoteAddr); err != nil {
		return frame.Send(ctx, rw, wire.Complete{Success: false, Message: err.Error()})
	}
	return frame.Send(ctx, rw, wire.Complete{Success: true})
}

// handleBlockRequest serves one block of a package file for swarm
// downloads (§4.10). The header's BlockOffset/BlockLength name the byte
// range; the manifest's single entry names the file, relative to
// destinationRoot (which for this transfer type is the package root
// being served from, not a write destination).
func (h *Handler) handleBlockRequest(ctx context.Context, rw io.ReadWriter, destinationRoot string, header wire.Header, manifest wire.Manifest) error {
	if len(manifest) != 1 {
		return xferr.New(xferr.Protocol, "receiver: block request expects exactly one manifest entry")
	}
	entry := manifest[0]
	if err := pathsafe.Validate(entry.Path); err != nil {
		return xferr.Wrap(xferr.Path, "receiver: unsafe block request path "+entry.Path, err)
	}
	if header.BlockLength <= 0 || header.BlockLength > swarm.BlockSize || header.BlockOffset < 0 {
		return xferr.New(xferr.Protocol, "receiver: invalid block range")
	}

	fullPath := filepath.Join(destinationRoot, filepath.FromSlash(entry.Path))
	f, err := os.Open(fullPath)
	if err != nil {
		return xferr.Wrap(xferr.Resource, "receiver: open block source", err)
	}
	defer f.Close()

	buf := make([]byte, header.BlockLength)
	n, err := f.ReadAt(buf, header.BlockOffset)
	if err != nil && err != io.EOF {
		return xferr.Wrap(xferr.Transient, "receiver: read block", err)
	}
	if _, err := rw.Write(buf[:n]); err != nil {
		return xferr.Wrap(xferr.Transient, "receiver: write block", err)
	}
	return frame.Send(ctx, rw, wire.Complete{Success: true, BytesReceived: int64(n)})
}

func (h *Handler) handleSpeedTest(ctx context.Context, rw io.ReadWriter, header wire.Header) error {
	if _, err := io.CopyN(io.Discard, rw, header.TotalSize); err != nil {
		return xferr.Wrap(xferr.Transient, "receiver: speed test read", err)
	}
	return frame.Send(ctx, rw, wire.Complete{Success: true})
}

func (h *Handler) handlePackage(ctx context.Context, rw io.ReadWriter, remoteAddr, destinationRoot string, header wire.Header, manifest wire.Manifest) error {
	release, ok := h.locks.Acquire(ctx, destinationRoot)
	if !ok {
		frame.Send(ctx, rw, wire.ACK{Accepted: false, Reason: "destination busy"})
		return xferr.New(xferr.Resource, "receiver: destination locked")
	}
	defer release()

	if err := os.MkdirAll(destinationRoot, 0o755); err != nil {
		frame.Send(ctx, rw, wire.ACK{Accepted: false, Reason: "cannot create destination"})
		return xferr.Wrap(xferr.Resource, "receiver: mkdir destination", err)
	}

	free, err := availableDiskSpace(destinationRoot)
	if err != nil {
		h.Log.Warn("disk space check failed", "error", err)
	} else if free < header.TotalSize+DiskSpaceBuffer {
		frame.Send(ctx, rw, wire.ACK{Accepted: false, Reason: "insufficient disk space"})
		return xferr.New(xferr.Resource, "receiver: insufficient disk space")
	}

	if !h.awaitApproval(header.GameName, len(manifest), header.TotalSize) {
		frame.Send(ctx, rw, wire.ACK{Accepted: false, Reason: "rejected by user"})
		return xferr.New(xferr.Policy, "receiver: approval rejected or timed out")
	}

	ack, err := h.analyzeSmartSync(destinationRoot, manifest)
	if err != nil {
		return err
	}

	entries := make([]resume.ManifestEntry, len(manifest))
	for i, e := range manifest {
		entries[i] = resume.ManifestEntry{Path: e.Path, Size: e.Size, Hash: e.Hash}
	}
	fingerprint := resume.Fingerprint(entries)

	state, err := resume.Load(destinationRoot)
	if err != nil {
		h.Log.Warn("resume state load failed", "error", err)
		state = nil
	}
	if !state.Usable(fingerprint) {
		if state != nil {
			resume.Delete(destinationRoot)
		}
		state = resume.New(header.GameName, len(manifest), header.TotalSize, fingerprint)
	}

	// Files finished in an earlier attempt are reported as skipped so the
	// sender does not stream bytes that receiveFiles will not read.
	for _, e := range manifest {
		if state.IsCompleted(e.Path) && !ack.IsSkipped(e.Path) {
			ack.Skipped = append(ack.Skipped, e.Path)
		}
	}
	if err := frame.Send(ctx, rw, ack); err != nil {
		return err
	}

	if err := h.receiveFiles(ctx, rw, destinationRoot, manifest, &ack, state); err != nil {
		return err
	}

	resume.Delete(destinationRoot)
	if err := metadata.WriteReceivedMarker(destinationRoot, remoteAddr); err != nil {
		h.Log.Warn("failed to write received marker", "error", err)
	}

	complete := wire.Complete{
		Success:       true,
		FilesReceived: state.FilesCompleted,
		BytesReceived: state.BytesReceived,
	}
	return frame.Send(ctx, rw, complete)
}

func (h *Handler) awaitApproval(gameName string, totalFiles int, totalSize int64) bool {
	if h.OnApproval == nil {
		return true
	}
	req := ApprovalRequest{
		GameName:   gameName,
		TotalFiles: totalFiles,
		TotalSize:  totalSize,
		Decision:   make(chan bool, 1),
	}
	go h.OnApproval(req)

	select {
	case decision := <-req.Decision:
		return decision
	case <-time.After(ApprovalTimeout):
		return false
	}
}

// analyzeSmartSync compares manifest entries against existing files at
// destinationRoot: a size+hash match is skipped; a size match eligible
// for delta gets signatures computed and offered.
func (h *Handler) analyzeSmartSync(destinationRoot string, manifest wire.Manifest) (wire.ACK, error) {
	ack := wire.ACK{
		Accepted:        true,
		SupportsDelta:   true,
		DeltaSignatures: make(map[string][]byte),
	}

	localMeta, _ := metadata.Load(destinationRoot)

	for _, entry := range manifest {
		fullPath := filepath.Join(destinationRoot, filepath.FromSlash(entry.Path))
		info, err := os.Stat(fullPath)
		if err != nil {
			continue // no existing file: full transfer
		}
		if info.Size() != entry.Size {
			continue
		}

		var existingHash string
		if localMeta != nil {
			if cached, ok := localMeta.HashFor(entry.Path); ok {
				existingHash = cached
			}
		}
		if existingHash == "" {
			alg := hashutil.XxHash64
			var sum []byte
			if info.Size() < hashutil.SyncThreshold {
				sum, err = hashutil.HashFileSync(fullPath, alg)
			} else {
				sum, err = hashutil.HashFile(context.Background(), fullPath, alg)
			}
			if err != nil {
				continue
			}
			existingHash = hashutil.HexString(sum)
		}

		if existingHash == entry.Hash {
			ack.Skipped = append(ack.Skipped, entry.Path)
			continue
		}

		if !delta.Eligible(entry.Size, info.Size()) {
			continue
		}

		f, err := os.Open(fullPath)
		if err != nil {
			continue
		}
		sigs, err := delta.GenerateSignatures(f)
		f.Close()
		if err != nil {
			continue
		}
		ack.DeltaSignatures[entry.Path] = delta.SerializeSignatures(sigs)
	}

	return ack, nil
}

func (h *Handler) receiveFiles(ctx context.Context, rw io.ReadWriter, destinationRoot string, manifest wire.Manifest, ack *wire.ACK, state *resume.State) error {
	lastSave := time.Now()

	for _, entry := range manifest {
		if ctx.Err() != nil {
			return xferr.Wrap(xferr.Cancellation, "receiver: canceled", ctx.Err())
		}

		if err := pathsafe.Validate(entry.Path); err != nil {
			return xferr.Wrap(xferr.Path, "receiver: unsafe path "+entry.Path, err)
		}

		if ack.IsSkipped(entry.Path) {
			continue
		}
		if state.IsCompleted(entry.Path) {
			continue
		}

		fullPath := filepath.Join(destinationRoot, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return xferr.Wrap(xferr.Resource, "receiver: mkdir", err)
		}

		if _, hasSigs := ack.HasDeltaSignatures(entry.Path); hasSigs {
			if err := h.receiveDeltaOrWhole(ctx, rw, fullPath, entry); err != nil {
				return err
			}
		} else {
			if err := h.receiveWholeFile(ctx, rw, fullPath, entry); err != nil {
				return err
			}
		}

		state.MarkCompleted(entry.Path, entry.Size)

		if time.Since(lastSave) >= ResumeSaveInterval {
			if err := state.Save(destinationRoot); err != nil {
				h.Log.Warn("resume save failed", "error", err)
			}
			lastSave = time.Now()
		}
	}

	return state.Save(destinationRoot)
}

func (h *Handler) receiveDeltaOrWhole(ctx context.Context, rw io.ReadWriter, fullPath string, entry wire.FileEntry) error {
	var modeByte [1]byte
	if _, err := io.ReadFull(rw, modeByte[:]); err != nil {
		return xferr.Wrap(xferr.Transient, "receiver: read mode byte", err)
	}

	switch wire.FileMode(modeByte[0]) {
	case wire.ModeDelta:
		return h.applyDelta(rw, fullPath, entry)
	case wire.ModeFullFile:
		return h.writeWholeFile(ctx, frame.ExactReader(rw, entry.Size), fullPath, entry)
	default:
		return xferr.New(xferr.Protocol, "receiver: unknown file mode byte")
	}
}

func (h *Handler) applyDelta(rw io.ReadWriter, fullPath string, entry wire.FileEntry) error {
	d := &delta.Delta{}
	if _, err := d.ReadFrom(rw); err != nil {
		return xferr.Wrap(xferr.Protocol, "receiver: read delta", err)
	}

	target, err := os.Open(fullPath)
	if err != nil {
		return xferr.Wrap(xferr.Transient, "receiver: open target for delta", err)
	}
	defer target.Close()

	out := make([]byte, delta.OutputSize(d))
	if err := delta.Apply(out, target, d); err != nil {
		return xferr.Wrap(xferr.Integrity, "receiver: apply delta", err)
	}

	if hashutil.HexString(sum64(out)) != entry.Hash {
		return xferr.New(xferr.Integrity, "receiver: reconstructed delta file hash mismatch for "+entry.Path)
	}

	tmpPath := fullPath + ".steamroll-tmp"
	if err := os.WriteFile(tmpPath, out, 0o644); err != nil {
		return xferr.Wrap(xferr.Resource, "receiver: write reconstructed file", err)
	}
	return os.Rename(tmpPath, fullPath)
}

func (h *Handler) receiveWholeFile(ctx context.Context, rw io.ReadWriter, fullPath string, entry wire.FileEntry) error {
	return h.writeWholeFile(ctx, frame.ExactReader(rw, entry.Size), fullPath, entry)
}

func (h *Handler) writeWholeFile(ctx context.Context, r io.Reader, fullPath string, entry wire.FileEntry) error {
	tmpPath := fullPath + ".steamroll-tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return xferr.Wrap(xferr.Resource, "receiver: create temp file", err)
	}

	hasher := xxhash.New()
	w := io.MultiWriter(f, hasher)

	if _, err := io.Copy(w, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return xferr.Wrap(xferr.Transient, "receiver: write file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return xferr.Wrap(xferr.Resource, "receiver: close file", err)
	}

	got := hashutil.HexString(hasher.Sum(nil))
	if got != entry.Hash {
		os.Remove(tmpPath)
		return xferr.New(xferr.Integrity, "receiver: hash mismatch for "+entry.Path)
	}

	return os.Rename(tmpPath, fullPath)
}

func sum64(data []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64(data))
	return buf[:]
}
