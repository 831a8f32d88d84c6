// Package fetcher materializes qualifying levels into the install directory
// with a bounded pool of download workers.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/mmcdole/beatfetch/internal/domain"
)

// InstalledRecorder receives the name->hash entry for every level the
// fetcher schedules. Recording happens at scheduling time, before the
// download finishes, so an interrupted run never re-fetches a level it
// already started on.
type InstalledRecorder interface {
	MarkInstalled(name, hash string)
}

// Progress is invoked once per completed level (success or failure) from the
// collector goroutine, never concurrently.
type Progress func(done, total int, level domain.Level, err error)

// Options configures a Fetcher.
type Options struct {
	InstallDir string
	TmpDir     string
	MaxThreads int
	NoExtract  bool // keep the zip instead of extracting (BMBF workflow)
}

// Fetcher downloads and extracts level archives.
type Fetcher struct {
	downloader domain.MapDownloader
	record     InstalledRecorder
	opts       Options
	logger     *slog.Logger
	progress   Progress
}

func New(downloader domain.MapDownloader, record InstalledRecorder, opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxThreads < 1 {
		opts.MaxThreads = 1
	}
	return &Fetcher{downloader: downloader, record: record, opts: opts, logger: logger}
}

// SetProgress installs a per-completion progress callback.
func (f *Fetcher) SetProgress(p Progress) {
	f.progress = p
}

type result struct {
	level domain.Level
	err   error
}

// FetchAll downloads every level using at most MaxThreads concurrent
// transfers. Per-level failures are logged and reported through the progress
// callback; only failure to prepare the local directories is fatal.
func (f *Fetcher) FetchAll(ctx context.Context, levels []domain.Level) error {
	if len(levels) == 0 {
		return nil
	}

	if err := os.MkdirAll(f.opts.InstallDir, 0755); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}
	if err := os.MkdirAll(f.opts.TmpDir, 0755); err != nil {
		return fmt.Errorf("creating tmp dir: %w", err)
	}

	workers := f.opts.MaxThreads
	if workers > len(levels) {
		workers = len(levels)
	}

	jobs := make(chan domain.Level)
	results := make(chan result)

	for i := 0; i < workers; i++ {
		go func() {
			for lvl := range jobs {
				results <- result{level: lvl, err: f.fetchOne(ctx, lvl)}
			}
		}()
	}

	// Cancellation can stop the producer mid-batch, so the collector must not
	// wait for results that were never scheduled.
	scheduled := make(chan int, 1)
	go func() {
		defer close(jobs)
		n := 0
		for _, lvl := range levels {
			// Scheduling marks the level installed immediately, so interrupted
			// runs do not re-offer it. A failed download therefore stays
			// recorded until the next rescan; known tradeoff.
			f.record.MarkInstalled(DirName(lvl), lvl.Detail.Hash)
			select {
			case jobs <- lvl:
				n++
			case <-ctx.Done():
				scheduled <- n
				return
			}
		}
		scheduled <- n
	}()

	failed := 0
	done := 0
	pending := len(levels)
	for done < pending {
		select {
		case res := <-results:
			done++
			if res.err != nil {
				failed++
				f.logger.Error("level download failed", "name", res.level.Catalog.Name, "error", res.err)
			} else {
				f.logger.Info("level installed", "name", DirName(res.level))
			}
			if f.progress != nil {
				f.progress(done, len(levels), res.level, res.err)
			}
		case n := <-scheduled:
			pending = n
		}
	}

	// Best effort; the tmp dir may hold leftovers from failed downloads.
	os.Remove(f.opts.TmpDir)

	if failed > 0 {
		f.logger.Warn("some downloads failed", "failed", failed, "total", len(levels))
	}
	return nil
}

// fetchOne downloads one level, retrying the whole fetch+extract once.
// Corrupt archives from the CDN are transient in practice.
func (f *Fetcher) fetchOne(ctx context.Context, lvl domain.Level) error {
	name := DirName(lvl)

	err := f.attempt(ctx, lvl, name)
	if err == nil || ctx.Err() != nil {
		return err
	}

	f.logger.Warn("download failed, retrying once", "name", name, "error", err)
	return f.attempt(ctx, lvl, name)
}

func (f *Fetcher) attempt(ctx context.Context, lvl domain.Level, name string) error {
	tmpPath := filepath.Join(f.opts.TmpDir, uuid.NewString()+".zip")
	defer os.Remove(tmpPath)

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if err := f.downloader.DownloadMap(ctx, lvl.Detail.DirectDownload, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if f.opts.NoExtract {
		return os.Rename(tmpPath, filepath.Join(f.opts.InstallDir, name+".zip"))
	}

	target := filepath.Join(f.opts.InstallDir, name)
	if err := extract(tmpPath, target); err != nil {
		// Leave no partially extracted level behind before the retry.
		os.RemoveAll(target)
		return fmt.Errorf("%s: %w: %v", name, domain.ErrCorruptArchive, err)
	}
	return nil
}

// extract unpacks a level archive into a freshly created directory.
func extract(archivePath, target string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.Mkdir(target, 0755); err != nil {
		return err
	}

	for _, file := range r.File {
		dst := filepath.Join(target, file.Name)
		if !strings.HasPrefix(dst, filepath.Clean(target)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes target: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := extractFile(file, dst); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, dst string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// DirName composes the install name for a level:
// {contentHash}_{sanitizedAuthor}_{sanitizedTitle}. Content-hash prefixing
// keeps names collision-free without any central ID allocator.
func DirName(lvl domain.Level) string {
	author := lvl.Catalog.LevelAuthorName
	title := lvl.Catalog.Name
	if title == "" && lvl.Detail != nil {
		author = lvl.Detail.LevelAuthorName
		title = lvl.Detail.SongName
	}
	return fmt.Sprintf("%s_%s_%s", lvl.Catalog.ID, sanitize(author), sanitize(title))
}

// sanitize strips characters that are unsafe in file names and replaces the
// remaining spaces with hyphens.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '(', r == ')', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(b.String(), " ", "-")
}
