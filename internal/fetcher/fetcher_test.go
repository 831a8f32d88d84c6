package fetcher_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/beatfetch/internal/domain"
	"github.com/mmcdole/beatfetch/internal/fetcher"
	"github.com/mmcdole/beatfetch/internal/log"
)

// levelZip builds a minimal valid level archive in memory.
func levelZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"info.dat":       `{"_songName":"x"}`,
		"ExpertPlus.dat": `{"_notes":[]}`,
	} {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(f, body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// fakeDownloader serves archive bytes and tracks concurrency. Individual URLs
// can be set to fail a number of times before succeeding.
type fakeDownloader struct {
	archive []byte

	mu        sync.Mutex
	failures  map[string]int
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	callCount atomic.Int32
}

func (d *fakeDownloader) DownloadMap(_ context.Context, url string, dst io.Writer) error {
	cur := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		max := d.maxSeen.Load()
		if cur <= max || d.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	d.callCount.Add(1)

	d.mu.Lock()
	if d.failures[url] > 0 {
		d.failures[url]--
		d.mu.Unlock()
		_, _ = dst.Write([]byte("not a zip"))
		return nil // corrupt body, not a transport error
	}
	d.mu.Unlock()

	_, err := dst.Write(d.archive)
	return err
}

type recordedInstall struct {
	name, hash string
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedInstall
}

func (r *fakeRecorder) MarkInstalled(name, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedInstall{name, hash})
}

func level(id, author, title string) domain.Level {
	return domain.Level{
		Catalog: domain.CatalogItem{ID: id, Name: title, LevelAuthorName: author},
		Detail:  &domain.DetailRecord{Hash: id, DirectDownload: "/cdn/" + id + ".zip"},
	}
}

func newFetcher(t *testing.T, d *fakeDownloader, rec *fakeRecorder, tweak func(*fetcher.Options)) *fetcher.Fetcher {
	t.Helper()
	opts := fetcher.Options{
		InstallDir: filepath.Join(t.TempDir(), "CustomLevels"),
		TmpDir:     filepath.Join(t.TempDir(), "tmp"),
		MaxThreads: 3,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return fetcher.New(d, rec, opts, log.NullLogger())
}

func TestFetchAllExtractsLevels(t *testing.T) {
	d := &fakeDownloader{archive: levelZip(t)}
	rec := &fakeRecorder{}

	var installDir string
	f := newFetcher(t, d, rec, func(o *fetcher.Options) { installDir = o.InstallDir })

	lvl := level("aa11", "Mapper", "Some Song")
	require.NoError(t, f.FetchAll(context.Background(), []domain.Level{lvl}))

	target := filepath.Join(installDir, "aa11_Mapper_Some-Song")
	assert.FileExists(t, filepath.Join(target, "info.dat"))
	assert.FileExists(t, filepath.Join(target, "ExpertPlus.dat"))
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	d := &fakeDownloader{archive: levelZip(t)}
	rec := &fakeRecorder{}

	f := newFetcher(t, d, rec, func(o *fetcher.Options) { o.MaxThreads = 2 })

	levels := make([]domain.Level, 8)
	for i := range levels {
		levels[i] = level(string(rune('a'+i))+"000", "Mapper", "Song")
	}
	require.NoError(t, f.FetchAll(context.Background(), levels))

	assert.LessOrEqual(t, d.maxSeen.Load(), int32(2))
	assert.Equal(t, int32(8), d.callCount.Load())
}

func TestFetchAllRetriesCorruptArchiveOnce(t *testing.T) {
	d := &fakeDownloader{
		archive:  levelZip(t),
		failures: map[string]int{"/cdn/bb22.zip": 1},
	}
	rec := &fakeRecorder{}

	var installDir string
	f := newFetcher(t, d, rec, func(o *fetcher.Options) { installDir = o.InstallDir })

	lvl := level("bb22", "Mapper", "Flaky")
	require.NoError(t, f.FetchAll(context.Background(), []domain.Level{lvl}))

	assert.Equal(t, int32(2), d.callCount.Load(), "one failure, one retry")
	assert.FileExists(t, filepath.Join(installDir, "bb22_Mapper_Flaky", "info.dat"))
}

func TestFetchAllPersistentCorruptionReportsFailure(t *testing.T) {
	d := &fakeDownloader{
		archive:  levelZip(t),
		failures: map[string]int{"/cdn/cc33.zip": 2}, // fails both attempts
	}
	rec := &fakeRecorder{}

	var installDir string
	f := newFetcher(t, d, rec, func(o *fetcher.Options) { installDir = o.InstallDir })

	var gotErr error
	f.SetProgress(func(done, total int, _ domain.Level, err error) {
		gotErr = err
	})

	lvl := level("cc33", "Mapper", "Broken")
	require.NoError(t, f.FetchAll(context.Background(), []domain.Level{lvl}))

	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, domain.ErrCorruptArchive)
	assert.NoDirExists(t, filepath.Join(installDir, "cc33_Mapper_Broken"))
}

func TestFetchAllMarksInstalledAtScheduling(t *testing.T) {
	d := &fakeDownloader{
		archive:  levelZip(t),
		failures: map[string]int{"/cdn/dd44.zip": 2},
	}
	rec := &fakeRecorder{}
	f := newFetcher(t, d, rec, nil)

	lvl := level("dd44", "Mapper", "Doomed")
	require.NoError(t, f.FetchAll(context.Background(), []domain.Level{lvl}))

	// Failed downloads are still recorded; a rescan is what clears them.
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "dd44_Mapper_Doomed", rec.entries[0].name)
	assert.Equal(t, "dd44", rec.entries[0].hash)
}

func TestFetchAllNoExtractKeepsArchive(t *testing.T) {
	d := &fakeDownloader{archive: levelZip(t)}
	rec := &fakeRecorder{}

	var installDir string
	f := newFetcher(t, d, rec, func(o *fetcher.Options) {
		o.NoExtract = true
		installDir = o.InstallDir
	})

	lvl := level("ee55", "Mapper", "Zipped")
	require.NoError(t, f.FetchAll(context.Background(), []domain.Level{lvl}))

	assert.FileExists(t, filepath.Join(installDir, "ee55_Mapper_Zipped.zip"))
	assert.NoDirExists(t, filepath.Join(installDir, "ee55_Mapper_Zipped"))
}

func TestFetchAllProgressCallback(t *testing.T) {
	d := &fakeDownloader{archive: levelZip(t)}
	rec := &fakeRecorder{}
	f := newFetcher(t, d, rec, nil)

	var dones []int
	f.SetProgress(func(done, total int, _ domain.Level, err error) {
		assert.NoError(t, err)
		assert.Equal(t, 3, total)
		dones = append(dones, done)
	})

	levels := []domain.Level{
		level("f001", "A", "One"),
		level("f002", "B", "Two"),
		level("f003", "C", "Three"),
	}
	require.NoError(t, f.FetchAll(context.Background(), levels))
	assert.Equal(t, []int{1, 2, 3}, dones)
}

func TestDirName(t *testing.T) {
	tests := []struct {
		name  string
		level domain.Level
		want  string
	}{
		{
			name:  "plain",
			level: level("ab12", "Mapper", "Song Title"),
			want:  "ab12_Mapper_Song-Title",
		},
		{
			name:  "unsafe characters stripped",
			level: level("ab12", "M/apper:Two", `So"ng <Ti>tle?`),
			want:  "ab12_MapperTwo_Song-Title",
		},
		{
			name:  "kept punctuation",
			level: level("ab12", "the_mapper", "Song (Remix) v1.2"),
			want:  "ab12_the_mapper_Song-(Remix)-v1.2",
		},
		{
			name: "falls back to detail metadata",
			level: domain.Level{
				Catalog: domain.CatalogItem{ID: "cd34"},
				Detail: &domain.DetailRecord{
					SongName:        "Detail Song",
					LevelAuthorName: "DetailMapper",
				},
			},
			want: "cd34_DetailMapper_Detail-Song",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fetcher.DirName(tt.level))
		})
	}
}

// cancellingDownloader cancels the run's context on its first download, the
// way an interrupt arriving mid-batch would.
type cancellingDownloader struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (d *cancellingDownloader) DownloadMap(_ context.Context, _ string, dst io.Writer) error {
	if d.calls.Add(1) == 1 {
		d.cancel()
	}
	_, _ = dst.Write([]byte("interrupted"))
	return context.Canceled
}

func TestFetchAllReturnsAfterMidBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &cancellingDownloader{cancel: cancel}
	rec := &fakeRecorder{}

	opts := fetcher.Options{
		InstallDir: filepath.Join(t.TempDir(), "CustomLevels"),
		TmpDir:     filepath.Join(t.TempDir(), "tmp"),
		MaxThreads: 1,
	}
	f := fetcher.New(d, rec, opts, log.NullLogger())

	levels := []domain.Level{
		level("g001", "A", "One"),
		level("g002", "B", "Two"),
		level("g003", "C", "Three"),
		level("g004", "D", "Four"),
	}

	finished := make(chan error, 1)
	go func() { finished <- f.FetchAll(ctx, levels) }()

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("FetchAll did not return after the context was cancelled")
	}
}

func TestFetchAllCreatesDirectories(t *testing.T) {
	d := &fakeDownloader{archive: levelZip(t)}
	rec := &fakeRecorder{}

	base := t.TempDir()
	opts := fetcher.Options{
		InstallDir: filepath.Join(base, "deep", "nested", "CustomLevels"),
		TmpDir:     filepath.Join(base, "deep", "tmp"),
		MaxThreads: 1,
	}
	f := fetcher.New(d, rec, opts, log.NullLogger())

	require.NoError(t, f.FetchAll(context.Background(), []domain.Level{level("aa00", "M", "S")}))

	_, err := os.Stat(opts.InstallDir)
	assert.NoError(t, err)
}
