package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SableWorks/SableBrowser/core/internal/logging"
	"github.com/SableWorks/SableBrowser/core/internal/shared/hash"
	idgen "github.com/SableWorks/SableBrowser/core/internal/shared/id"
	"github.com/SableWorks/SableBrowser/core/internal/wipe"
)

var (
	// ErrBlockedType is returned when the declared content type is not
	// allow-listed.
	ErrBlockedType = errors.New("content type not allowed")
	// ErrBlockedExtension is returned when the file extension is
	// deny-listed.
	ErrBlockedExtension = errors.New("file extension blocked")
	// ErrUnknownDownload is returned for operations on ids the gate does
	// not track.
	ErrUnknownDownload = errors.New("unknown download id")
	// ErrNotQuarantined is returned when promoting a record that is not
	// in the quarantined state.
	ErrNotQuarantined = errors.New("download is not quarantined")
	// ErrNotInitialized is returned when the gate is used before
	// Initialize.
	ErrNotInitialized = errors.New("download gate not initialized")
)

// Config defines gate policy.
type Config struct {
	// AllowedTypes is the declared-MIME allow-list.
	AllowedTypes []string
	// BlockedExtensions is the file-extension deny-list, entries with
	// leading dot.
	BlockedExtensions []string
}

// Gate intercepts inbound transfers and enforces the quarantine policy.
type Gate struct {
	cfg    Config
	hasher *hash.Hasher
	wiper  *wipe.Worker
	marker Marker
	logger *logging.Logger

	initialized atomic.Bool
	source      Source
	dir         string

	records sync.Map // id -> *Record
	stats   gateStats
}

// NewGate creates an unbound quarantine gate; call Initialize to attach it
// to a download source and quarantine directory.
func NewGate(cfg Config, wiper *wipe.Worker, marker Marker, logger *logging.Logger) *Gate {
	if marker == nil {
		marker = NewSidecarMarker()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		cfg:    cfg,
		hasher: hash.Default(),
		wiper:  wiper,
		marker: marker,
		logger: logger,
	}
}

// Initialize binds the gate to a download-event source and ensures the
// quarantine directory exists. Re-initialization of a live gate is refused
// without corrupting the existing binding.
func (g *Gate) Initialize(source Source, quarantineDir string) error {
	if !g.initialized.CompareAndSwap(false, true) {
		return errors.New("download gate already initialized")
	}
	if err := os.MkdirAll(quarantineDir, 0o700); err != nil {
		g.initialized.Store(false)
		return fmt.Errorf("failed to create quarantine dir: %w", err)
	}
	g.dir = quarantineDir
	g.source = source
	if source != nil {
		source.Attach(g)
	}
	return nil
}

// TransferStarting validates a new inbound transfer. Disallowed transfers
// are canceled here, before any bytes reach disk, and produce no record.
func (g *Gate) TransferStarting(req Request) (string, io.WriteCloser, error) {
	if !g.initialized.Load() {
		return "", nil, ErrNotInitialized
	}
	if err := g.validate(req); err != nil {
		g.stats.blocked()
		g.logger.Info("transfer blocked",
			zap.String("file", req.FileName),
			zap.String("declared_type", req.DeclaredType),
			zap.Error(err))
		return "", nil, err
	}

	did := idgen.NewDownloadID().String()
	path := filepath.Join(g.dir, quarantineFileName(req.FileName))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open quarantine file: %w", err)
	}

	rec := &Record{
		ID:             did,
		FileName:       filepath.Base(req.FileName),
		SourceURL:      req.SourceURL,
		QuarantinePath: path,
		DeclaredType:   req.DeclaredType,
		StartedAt:      time.Now(),
		Status:         StatusPending,
	}
	g.records.Store(did, rec)
	g.stats.started()

	return did, &transferWriter{gate: g, record: rec, file: f}, nil
}

// TransferCompleted finalizes a transfer: hash, size, quarantine marking.
func (g *Gate) TransferCompleted(did string) {
	rec, ok := g.load(did)
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Zero-byte transfers can complete without a single write.
	if rec.Status == StatusPending {
		if err := rec.transition(StatusInProgress); err != nil {
			g.logger.Warn("completion on dead record", zap.String("download_id", did), zap.Error(err))
			return
		}
	}

	sum, err := g.hasher.SumFile(rec.QuarantinePath)
	if err != nil {
		g.failLocked(rec, fmt.Errorf("failed to hash quarantined file: %w", err))
		return
	}
	info, err := os.Stat(rec.QuarantinePath)
	if err != nil {
		g.failLocked(rec, fmt.Errorf("failed to stat quarantined file: %w", err))
		return
	}

	// Hash and size are recorded before the record can become visible as
	// quarantined.
	rec.Hash = sum
	rec.Size = info.Size()
	if err := rec.transition(StatusQuarantined); err != nil {
		g.logger.Warn("invalid completion transition", zap.String("download_id", did), zap.Error(err))
		return
	}

	g.sniffDeclaredType(rec)
	g.markOrigin(rec)
	g.stats.quarantined(rec.Size, time.Since(rec.StartedAt))
	g.logger.Info("download quarantined",
		zap.String("download_id", did),
		zap.String("file", rec.FileName),
		zap.Int64("size", rec.Size),
		zap.String("hash", rec.Hash))
}

// TransferFailed aborts a transfer and discards any partial bytes.
func (g *Gate) TransferFailed(did string, cause error) {
	rec, ok := g.load(did)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	g.failLocked(rec, cause)
}

// Promote atomically moves a quarantined file to destination, creating
// intermediate directories as needed. All-or-nothing: on any failure the
// file stays in quarantine untouched and the record becomes Failed.
func (g *Gate) Promote(ctx context.Context, did, destination string) (Record, error) {
	rec, ok := g.load(did)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownDownload, did)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.Status != StatusQuarantined {
		return rec.snapshot(), fmt.Errorf("%w: %s is %s", ErrNotQuarantined, did, rec.Status)
	}
	if err := ctx.Err(); err != nil {
		return rec.snapshot(), err
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		g.failLocked(rec, fmt.Errorf("failed to create destination dir: %w", err))
		return rec.snapshot(), fmt.Errorf("promote %s: %w", did, err)
	}

	if err := atomicMove(rec.QuarantinePath, destination); err != nil {
		g.failLocked(rec, err)
		return rec.snapshot(), fmt.Errorf("promote %s: %w", did, err)
	}

	// Carry the origin sidecar along with the file; best-effort.
	if _, err := os.Stat(sidecarPath(rec.QuarantinePath)); err == nil {
		if err := os.Rename(sidecarPath(rec.QuarantinePath), sidecarPath(destination)); err != nil {
			g.logger.Debug("sidecar move failed", zap.Error(err))
		}
	}

	rec.FinalPath = destination
	if err := rec.transition(StatusPromoted); err != nil {
		return rec.snapshot(), err
	}
	g.stats.promoted()
	g.logger.Info("download promoted",
		zap.String("download_id", did),
		zap.String("destination", destination))
	return rec.snapshot(), nil
}

// Delete securely erases a quarantined file and marks the record Deleted.
// Unknown ids return false rather than an error.
func (g *Gate) Delete(ctx context.Context, did string) bool {
	rec, ok := g.load(did)
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.Status != StatusQuarantined {
		return false
	}

	if err := g.wiper.WipeFile(ctx, rec.QuarantinePath); err != nil {
		g.logger.Warn("secure erase of quarantined file failed",
			zap.String("download_id", did), zap.Error(err))
	}
	_ = os.Remove(sidecarPath(rec.QuarantinePath))

	if err := rec.transition(StatusDeleted); err != nil {
		return false
	}
	g.stats.deleted()
	g.logger.Info("download deleted", zap.String("download_id", did))
	return true
}

// Active returns records still pending, transferring, or quarantined.
func (g *Gate) Active() []Record {
	out := make([]Record, 0)
	g.records.Range(func(_, value any) bool {
		rec := value.(*Record)
		rec.mu.Lock()
		if rec.Undecided() {
			out = append(out, rec.snapshot())
		}
		rec.mu.Unlock()
		return true
	})
	return out
}

// Get returns a snapshot of the record for id.
func (g *Gate) Get(did string) (Record, bool) {
	rec, ok := g.load(did)
	if !ok {
		return Record{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), true
}

// Metrics returns aggregate gate counters.
func (g *Gate) Metrics() Metrics {
	return g.stats.snapshot()
}

// Close tears the gate down: detach from the source and delete every record
// still quarantined. Undecided downloads do not survive session end.
func (g *Gate) Close(ctx context.Context) {
	if !g.initialized.Load() {
		return
	}
	if g.source != nil {
		g.source.Detach()
	}

	var undecided []string
	g.records.Range(func(key, value any) bool {
		rec := value.(*Record)
		rec.mu.Lock()
		if rec.Status == StatusQuarantined {
			undecided = append(undecided, key.(string))
		}
		rec.mu.Unlock()
		return true
	})
	for _, did := range undecided {
		g.Delete(ctx, did)
	}
}

func (g *Gate) load(did string) (*Record, bool) {
	val, ok := g.records.Load(did)
	if !ok {
		return nil, false
	}
	return val.(*Record), true
}

// validate enforces the declared-type allow-list and extension deny-list.
func (g *Gate) validate(req Request) error {
	ext := strings.ToLower(filepath.Ext(req.FileName))
	for _, blocked := range g.cfg.BlockedExtensions {
		if ext == strings.ToLower(blocked) {
			return fmt.Errorf("%w: %s", ErrBlockedExtension, ext)
		}
	}

	declared := req.DeclaredType
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		declared = parsed
	}
	declared = strings.ToLower(declared)
	for _, allowed := range g.cfg.AllowedTypes {
		if declared == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrBlockedType, req.DeclaredType)
}

// sniffDeclaredType cross-checks the declared MIME type against the actual
// bytes. A mismatch is suspicious but not fatal; the file is already
// confined to quarantine.
func (g *Gate) sniffDeclaredType(rec *Record) {
	detected, err := mimetype.DetectFile(rec.QuarantinePath)
	if err != nil {
		return
	}
	if !detected.Is(rec.DeclaredType) && rec.DeclaredType != "application/octet-stream" {
		g.logger.Warn("declared content type mismatch",
			zap.String("download_id", rec.ID),
			zap.String("declared", rec.DeclaredType),
			zap.String("detected", detected.String()))
	}
}

// markOrigin applies the platform marker, degrading to the sidecar fallback.
// Marking never blocks quarantine completion.
func (g *Gate) markOrigin(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.marker.Mark(ctx, rec.QuarantinePath, rec.SourceURL); err != nil {
		g.logger.Warn("origin marking failed, writing sidecar",
			zap.String("download_id", rec.ID), zap.Error(err))
		if err := NewSidecarMarker().Mark(ctx, rec.QuarantinePath, rec.SourceURL); err != nil {
			g.logger.Warn("sidecar fallback failed",
				zap.String("download_id", rec.ID), zap.Error(err))
		}
	}
}

// failLocked transitions a record to Failed. Partial bytes of an unfinished
// transfer are discarded; a file that already reached quarantine stays on
// disk, because a failed promote must never lose the quarantined file.
// Callers must hold rec.mu. Records already terminal are left alone.
func (g *Gate) failLocked(rec *Record, cause error) {
	unfinished := rec.Status == StatusPending || rec.Status == StatusInProgress
	if err := rec.transition(StatusFailed); err != nil {
		return
	}
	if unfinished {
		if err := os.Remove(rec.QuarantinePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.logger.Debug("partial file cleanup failed", zap.Error(err))
		}
		_ = os.Remove(sidecarPath(rec.QuarantinePath))
	}
	g.stats.failed()
	g.logger.Warn("download failed",
		zap.String("download_id", rec.ID),
		zap.Error(cause))
}

// quarantineFileName prefixes the sanitized original name with random bytes
// so concurrent downloads of the same name never collide.
func quarantineFileName(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, "..", "")
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "download"
	}
	return fmt.Sprintf("%s_%s", uuid.New().String()[:8], base)
}

// transferWriter is the byte sink handed to the source for one transfer.
// The first write moves the record from Pending to InProgress.
type transferWriter struct {
	gate   *Gate
	record *Record
	file   *os.File
	wrote  atomic.Bool
}

func (w *transferWriter) Write(p []byte) (int, error) {
	if w.wrote.CompareAndSwap(false, true) {
		w.record.mu.Lock()
		if err := w.record.transition(StatusInProgress); err != nil {
			w.record.mu.Unlock()
			return 0, err
		}
		w.record.mu.Unlock()
	}
	return w.file.Write(p)
}

func (w *transferWriter) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// atomicMove renames src to dst, falling back to copy+fsync+rename across
// filesystems. dst never becomes visible half-written; on failure src is
// left untouched.
func atomicMove(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	tmp := dst + ".partial-" + uuid.New().String()[:8]
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy to destination: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close destination: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize destination: %w", err)
	}
	if err := os.Remove(src); err != nil {
		// All-or-nothing: the source is still intact, so take the copy
		// back out rather than leave the file in both places.
		_ = os.Remove(dst)
		return fmt.Errorf("failed to clear source after copy: %w", err)
	}
	return nil
}
