// Package cache is the content-addressable view of everything beatfetch
// already knows: the bulk BeatSaver snapshot, per-level lookups made during
// the session, and the record of levels installed on disk.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/mmcdole/beatfetch/internal/beatsaver"
	"github.com/mmcdole/beatfetch/internal/domain"
	"github.com/mmcdole/beatfetch/internal/hashing"
	"github.com/mmcdole/beatfetch/internal/store"
)

// DefaultSnapshotTTL matches the upstream scrape cadence of once per day.
const DefaultSnapshotTTL = 24 * time.Hour

// Options configures a Cache.
type Options struct {
	InstallDir  string // where levels live on disk
	TmpDir      string // scratch space for snapshot downloads
	RecordPath  string // installed-item record JSON file
	Rescan      bool   // drop the record and rehash everything
	SnapshotTTL time.Duration
}

// Cache implements domain.DetailResolver on top of a DetailStore, a remote
// detail source, and a session-only overlay, and owns the installed-item
// record for the process lifetime.
type Cache struct {
	store     *store.DetailStore
	snapshots domain.SnapshotFetcher
	details   domain.DetailRepository
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	overlay   map[string]*domain.DetailRecord // per-session API results, hash-keyed
	installed map[string]string               // dir or zip name -> uppercase hash
}

// New builds a Cache and loads the installed-item record from disk.
// With Rescan set, any existing record is discarded first.
func New(st *store.DetailStore, snapshots domain.SnapshotFetcher, details domain.DetailRepository, opts Options, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = DefaultSnapshotTTL
	}

	c := &Cache{
		store:     st,
		snapshots: snapshots,
		details:   details,
		opts:      opts,
		logger:    logger,
		overlay:   make(map[string]*domain.DetailRecord),
		installed: make(map[string]string),
	}

	if opts.Rescan {
		if err := os.Remove(opts.RecordPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("resetting installed record: %w", err)
		}
		return c, nil
	}

	if err := c.loadInstalledRecord(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) loadInstalledRecord() error {
	data, err := os.ReadFile(c.opts.RecordPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading installed record: %w", err)
	}
	if err := json.Unmarshal(data, &c.installed); err != nil {
		c.logger.Warn("installed record unreadable, starting empty", "path", c.opts.RecordPath, "error", err)
		c.installed = make(map[string]string)
	}
	return nil
}

// LoadOrRefreshSnapshot brings the local detail snapshot up to date. The
// snapshot is refetched when it has never been filled or is older than the
// TTL. Failure to fetch or extract is never fatal; the stale (possibly
// empty) snapshot keeps serving.
func (c *Cache) LoadOrRefreshSnapshot(ctx context.Context) {
	refreshed := c.store.RefreshedAt()
	if !refreshed.IsZero() && time.Since(refreshed) <= c.opts.SnapshotTTL {
		c.logger.Debug("snapshot fresh", "refreshedAt", refreshed)
		return
	}

	c.logger.Info("refreshing local BeatSaver snapshot")
	if err := c.refreshSnapshot(ctx); err != nil {
		c.logger.Warn("snapshot refresh failed, using stale data", "error", err)
	}
}

func (c *Cache) refreshSnapshot(ctx context.Context) error {
	if err := os.MkdirAll(c.opts.TmpDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}

	tmp, err := os.CreateTemp(c.opts.TmpDir, "snapshot-*.zip")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if err := c.snapshots.FetchSnapshot(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}

	archive, err := zip.OpenReader(tmp.Name())
	if err != nil {
		// Known upstream failure mode: the published zip is sometimes corrupt.
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}
	defer archive.Close()

	var payload *zip.File
	for _, f := range archive.File {
		if strings.HasSuffix(f.Name, ".json") {
			payload = f
			break
		}
	}
	if payload == nil {
		return fmt.Errorf("%w: archive has no JSON payload", domain.ErrSnapshotUnavailable)
	}

	count := 0
	err = c.store.Replace(func(put func(rec *domain.DetailRecord) error) error {
		rc, err := payload.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		return beatsaver.DecodeSnapshot(rc, func(rec *domain.DetailRecord) error {
			count++
			return put(rec)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}

	c.logger.Info("snapshot refreshed", "records", count)
	return nil
}

// Resolve returns the detail record for a level. Hash identifiers are served
// from the snapshot or the session overlay when possible; keys always go to
// the API, since the snapshot is hash-keyed only.
func (c *Cache) Resolve(ctx context.Context, id domain.LevelID) (*domain.DetailRecord, error) {
	if id.Kind == domain.HashID {
		c.mu.Lock()
		rec, ok := c.overlay[id.CacheKey()]
		c.mu.Unlock()
		if ok {
			return rec, nil
		}

		if rec, ok := c.store.Get(id.Value); ok {
			return rec, nil
		}
	}

	rec, err := c.details.Detail(ctx, id)
	if err != nil {
		return nil, err
	}

	if id.Kind == domain.HashID {
		c.mu.Lock()
		c.overlay[id.CacheKey()] = rec
		c.mu.Unlock()
	}
	return rec, nil
}

// IsInstalled reports whether a level with this content hash is already on
// disk, comparing case-insensitively.
func (c *Cache) IsInstalled(hash string) bool {
	want := strings.ToUpper(hash)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.installed {
		if strings.ToUpper(h) == want {
			return true
		}
	}
	return false
}

// MarkInstalled records a level under its install name. Safe for concurrent
// use by download workers.
func (c *Cache) MarkInstalled(name, hash string) {
	c.mu.Lock()
	c.installed[name] = strings.ToUpper(hash)
	c.mu.Unlock()
}

// ScanInstallDir hashes any install-dir entry the record does not know yet.
// Levels without a manifest, and archives too broken to read, are logged and
// skipped; filesystem errors propagate.
func (c *Cache) ScanInstallDir() error {
	entries, err := os.ReadDir(c.opts.InstallDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning install dir: %w", err)
	}

	c.logger.Info("scanning installed levels", "dir", c.opts.InstallDir)
	for _, entry := range entries {
		name := entry.Name()

		c.mu.Lock()
		_, known := c.installed[name]
		c.mu.Unlock()
		if known {
			continue
		}

		var hash string
		switch {
		case entry.IsDir():
			hash, err = hashing.FromDir(filepath.Join(c.opts.InstallDir, name))
		case strings.EqualFold(filepath.Ext(name), ".zip"):
			hash, err = hashing.FromZip(filepath.Join(c.opts.InstallDir, name))
		default:
			continue
		}

		if err != nil {
			if errors.Is(err, domain.ErrMissingManifest) || errors.Is(err, domain.ErrCorruptArchive) {
				c.logger.Warn("skipping unreadable level", "name", name, "error", err)
				continue
			}
			return err
		}

		c.MarkInstalled(name, hash)
		c.logger.Debug("indexed level", "name", name, "hash", hash)
	}
	return nil
}

// PersistInstalledRecord writes the full installed-item record atomically.
// Called once at orderly shutdown.
func (c *Cache) PersistInstalledRecord() error {
	c.mu.Lock()
	data, err := json.Marshal(c.installed)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding installed record: %w", err)
	}

	dir := filepath.Dir(c.opts.RecordPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("writing installed record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return fmt.Errorf("writing installed record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing installed record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing installed record: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.opts.RecordPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing installed record: %w", err)
	}
	return nil
}

// InstalledCount reports how many levels the record tracks.
func (c *Cache) InstalledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.installed)
}
