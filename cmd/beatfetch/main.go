package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/beatfetch/internal/assistant"
	"github.com/mmcdole/beatfetch/internal/beatsaver"
	"github.com/mmcdole/beatfetch/internal/cache"
	"github.com/mmcdole/beatfetch/internal/config"
	"github.com/mmcdole/beatfetch/internal/crawler"
	"github.com/mmcdole/beatfetch/internal/domain"
	"github.com/mmcdole/beatfetch/internal/fetcher"
	"github.com/mmcdole/beatfetch/internal/log"
	"github.com/mmcdole/beatfetch/internal/playlist"
	"github.com/mmcdole/beatfetch/internal/scoresaber"
	"github.com/mmcdole/beatfetch/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

type cliFlags struct {
	preset        string
	savePreset    string
	skipAssistant bool
	showVersion   bool
}

func main() {
	cli, cfg, uris, err := parseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cli.showVersion {
		fmt.Printf("beatfetch %s\n", Version)
		return
	}

	if err := run(cli, cfg, uris); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs builds the final configuration: defaults, then the preset file,
// then whatever flags were explicitly set.
func parseArgs() (cliFlags, *config.Config, []string, error) {
	var cli cliFlags

	flag.StringVar(&cli.preset, "preset", "", "path to a TOML preset file")
	flag.StringVar(&cli.savePreset, "save-preset", "", "write the effective settings to this preset file")
	flag.BoolVar(&cli.skipAssistant, "skip-assistant", false, "never prompt; missing settings keep their defaults")
	flag.BoolVar(&cli.showVersion, "v", false, "print version")
	flag.BoolVar(&cli.showVersion, "version", false, "print version")

	scratch := config.DefaultConfig()
	flag.IntVar(&scratch.Crawl.Levels, "levels", 0, "number of levels to download")
	flag.BoolVar(&scratch.Crawl.RankedOnly, "ranked-only", true, "only levels with a ranked difficulty")
	flag.IntVar(&scratch.Crawl.Sorting, "sorting", 1, "catalog sorting: 0 trends, 1 date ranked, 2 scores set, 3 star difficulty")
	flag.IntVar(&scratch.Crawl.Limit, "limit", 20, "catalog page size")
	flag.Float64Var(&scratch.Crawl.StarsMin, "stars-min", 0, "minimum star difficulty")
	flag.Float64Var(&scratch.Crawl.StarsMax, "stars-max", 50, "maximum star difficulty")
	flag.Float64Var(&scratch.Crawl.VoteRatioMin, "vote-ratio-min", 0, "minimum share of positive votes (0-1)")
	flag.Float64Var(&scratch.Crawl.VoteRatioMax, "vote-ratio-max", 1, "maximum share of positive votes (0-1)")
	flag.Float64Var(&scratch.Crawl.LengthMin, "length-min", 0, "minimum level length in seconds")
	flag.Float64Var(&scratch.Crawl.LengthMax, "length-max", 0, "maximum level length in seconds")
	flag.IntVar(&scratch.Crawl.NotesMin, "notes-min", 0, "minimum total note count")
	flag.IntVar(&scratch.Crawl.NotesMax, "notes-max", 0, "maximum total note count")
	flag.Float64Var(&scratch.Crawl.NPSMin, "nps-min", 0, "minimum notes per second")
	flag.Float64Var(&scratch.Crawl.NPSMax, "nps-max", 0, "maximum notes per second")
	flag.StringVar(&scratch.Crawl.Gamemode, "gamemode", "", "filter by game mode ("+strings.Join(config.Gamemodes, ", ")+")")
	flag.StringVar(&scratch.Crawl.Search, "search", "", "fuzzy-match titles and mappers")
	flag.StringVar(&scratch.Paths.DownloadDir, "download-dir", "", "directory where levels are installed")
	flag.StringVar(&scratch.Paths.PlaylistDir, "playlist-dir", "", "directory where playlists are saved")
	flag.StringVar(&scratch.Paths.TmpDir, "tmp-dir", "", "temporary download directory")
	flag.IntVar(&scratch.Download.MaxThreads, "max-threads", 5, "maximum concurrent downloads")
	flag.BoolVar(&scratch.Download.NoExtract, "no-extract", false, "keep level zips instead of extracting them")
	flag.BoolVar(&scratch.Download.Rescan, "rescan", false, "drop the installed-level record and rehash everything")
	flag.StringVar(&scratch.Playlist, "playlist", "", "playlist to add this session's levels to (created if missing)")
	flag.Parse()

	cfg, err := config.Load(cli.preset)
	if err != nil {
		return cli, nil, nil, err
	}

	// Explicitly set flags win over the preset.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "levels":
			cfg.Crawl.Levels = scratch.Crawl.Levels
		case "ranked-only":
			cfg.Crawl.RankedOnly = scratch.Crawl.RankedOnly
		case "sorting":
			cfg.Crawl.Sorting = scratch.Crawl.Sorting
		case "limit":
			cfg.Crawl.Limit = scratch.Crawl.Limit
		case "stars-min":
			cfg.Crawl.StarsMin = scratch.Crawl.StarsMin
		case "stars-max":
			cfg.Crawl.StarsMax = scratch.Crawl.StarsMax
		case "vote-ratio-min":
			cfg.Crawl.VoteRatioMin = scratch.Crawl.VoteRatioMin
		case "vote-ratio-max":
			cfg.Crawl.VoteRatioMax = scratch.Crawl.VoteRatioMax
		case "length-min":
			cfg.Crawl.LengthMin = scratch.Crawl.LengthMin
		case "length-max":
			cfg.Crawl.LengthMax = scratch.Crawl.LengthMax
		case "notes-min":
			cfg.Crawl.NotesMin = scratch.Crawl.NotesMin
		case "notes-max":
			cfg.Crawl.NotesMax = scratch.Crawl.NotesMax
		case "nps-min":
			cfg.Crawl.NPSMin = scratch.Crawl.NPSMin
		case "nps-max":
			cfg.Crawl.NPSMax = scratch.Crawl.NPSMax
		case "gamemode":
			cfg.Crawl.Gamemode = scratch.Crawl.Gamemode
		case "search":
			cfg.Crawl.Search = scratch.Crawl.Search
		case "download-dir":
			cfg.Paths.DownloadDir = scratch.Paths.DownloadDir
		case "playlist-dir":
			cfg.Paths.PlaylistDir = scratch.Paths.PlaylistDir
		case "tmp-dir":
			cfg.Paths.TmpDir = scratch.Paths.TmpDir
		case "max-threads":
			cfg.Download.MaxThreads = scratch.Download.MaxThreads
		case "no-extract":
			cfg.Download.NoExtract = scratch.Download.NoExtract
		case "rescan":
			cfg.Download.Rescan = scratch.Download.Rescan
		case "playlist":
			cfg.Playlist = scratch.Playlist
		}
	})

	return cli, cfg, flag.Args(), nil
}

func run(cli cliFlags, cfg *config.Config, uris []string) error {
	if !cli.skipAssistant {
		if err := assistant.Run(cfg); err != nil {
			return err
		}
		// Remember the paths so the assistant only asks once.
		if err := config.Save(cfg, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not persist settings: %v\n", err)
		}
	}
	if !cfg.IsConfigured() {
		return fmt.Errorf("download directory is not configured")
	}
	if cli.savePreset != "" {
		if err := config.Save(cfg, cli.savePreset); err != nil {
			return err
		}
		fmt.Printf("Preset saved to %s\n", cli.savePreset)
	}

	logger, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		logger = log.ConsoleLogger(cfg.Logging.Level)
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	st, err := store.Open(cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	bs := beatsaver.NewClient(logger)
	ss := scoresaber.NewClient(scoresaber.Sort(cfg.Crawl.Sorting), cfg.Crawl.RankedOnly, logger)

	levelCache, err := cache.New(st, bs, bs, cache.Options{
		InstallDir: cfg.Paths.DownloadDir,
		TmpDir:     cfg.Paths.TmpDir,
		RecordPath: cfg.RecordPath(),
		Rescan:     cfg.Download.Rescan,
	}, logger)
	if err != nil {
		return err
	}

	levelCache.LoadOrRefreshSnapshot(ctx)

	fmt.Println("Scanning installed levels...")
	if err := levelCache.ScanInstallDir(); err != nil {
		return err
	}

	var levels []domain.Level
	if len(uris) > 0 {
		levels, err = resolveURIs(ctx, uris, levelCache, logger)
	} else {
		if cfg.Crawl.Levels <= 0 {
			return fmt.Errorf("nothing to do: no URIs given and no level count configured")
		}
		fmt.Printf("Searching the catalog for %d levels...\n", cfg.Crawl.Levels)
		levels, err = crawler.New(ss, levelCache, levelCache, logger).Run(ctx, filters(cfg))
	}
	if err != nil {
		return err
	}
	if len(levels) == 0 {
		fmt.Println("Nothing new to download.")
		return levelCache.PersistInstalledRecord()
	}

	fmt.Printf("Downloading %d levels...\n", len(levels))
	dl := fetcher.New(bs, levelCache, fetcher.Options{
		InstallDir: cfg.Paths.DownloadDir,
		TmpDir:     cfg.Paths.TmpDir,
		MaxThreads: cfg.Download.MaxThreads,
		NoExtract:  cfg.Download.NoExtract,
	}, logger)
	dl.SetProgress(func(done, total int, lvl domain.Level, err error) {
		status := "ok"
		if err != nil {
			status = "FAILED"
		}
		fmt.Printf("[%d/%d] %s - %s (%s)\n", done, total, lvl.Catalog.LevelAuthorName, lvl.Catalog.Name, status)
	})
	if err := dl.FetchAll(ctx, levels); err != nil {
		return err
	}

	if cfg.Playlist != "" {
		pl, err := playlist.Load(cfg.Paths.PlaylistDir, cfg.Playlist, logger)
		if err != nil {
			return err
		}
		for _, lvl := range levels {
			pl.Add(lvl)
		}
		if err := pl.Save(); err != nil {
			return err
		}
	}

	return levelCache.PersistInstalledRecord()
}

// filters converts crawl configuration to crawler filters, widening zero
// maxima to "no limit".
func filters(cfg *config.Config) crawler.Filters {
	f := crawler.Defaults()
	f.Count = cfg.Crawl.Levels
	f.PageLimit = cfg.Crawl.Limit
	f.StarsMin = cfg.Crawl.StarsMin
	if cfg.Crawl.StarsMax > 0 {
		f.StarsMax = cfg.Crawl.StarsMax
	}
	f.VoteRatioMin = cfg.Crawl.VoteRatioMin
	if cfg.Crawl.VoteRatioMax > 0 {
		f.VoteRatioMax = cfg.Crawl.VoteRatioMax
	}
	f.LengthMin = cfg.Crawl.LengthMin
	if cfg.Crawl.LengthMax > 0 {
		f.LengthMax = cfg.Crawl.LengthMax
	}
	f.NotesMin = cfg.Crawl.NotesMin
	if cfg.Crawl.NotesMax > 0 {
		f.NotesMax = cfg.Crawl.NotesMax
	}
	f.NPSMin = cfg.Crawl.NPSMin
	if cfg.Crawl.NPSMax > 0 {
		f.NPSMax = cfg.Crawl.NPSMax
	}
	f.Gamemode = cfg.Crawl.Gamemode
	f.Search = cfg.Crawl.Search
	return f
}

// resolveURIs turns direct map URLs, keys, hashes and local .bplist files
// into downloadable levels, skipping anything already installed.
func resolveURIs(ctx context.Context, uris []string, levelCache *cache.Cache, logger *slog.Logger) ([]domain.Level, error) {
	var ids []domain.LevelID
	for _, uri := range uris {
		if strings.EqualFold(filepath.Ext(uri), ".bplist") {
			fromList, err := playlistHashes(uri, logger)
			if err != nil {
				return nil, err
			}
			ids = append(ids, fromList...)
			continue
		}
		id, err := domain.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	var levels []domain.Level
	for _, id := range ids {
		rec, err := levelCache.Resolve(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrDetailNotFound) {
				logger.Warn("level not found, skipping", "id", id.Value)
				continue
			}
			return nil, err
		}
		if levelCache.IsInstalled(rec.Hash) {
			logger.Info("already installed, skipping", "id", id.Value)
			continue
		}
		levels = append(levels, domain.Level{
			Catalog: domain.CatalogItem{
				ID:              rec.Hash,
				Name:            rec.SongName,
				LevelAuthorName: rec.LevelAuthorName,
			},
			Detail: rec,
		})
	}
	return levels, nil
}

// playlistHashes extracts the level hashes referenced by a local bplist file.
func playlistHashes(path string, logger *slog.Logger) ([]domain.LevelID, error) {
	// Load creates missing playlists, which would turn a typo'd path into an
	// empty download list.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("playlist %s: %w", path, err)
	}
	pl, err := playlist.Load(filepath.Dir(path), filepath.Base(path), logger)
	if err != nil {
		return nil, err
	}
	var ids []domain.LevelID
	for _, hash := range pl.Hashes() {
		ids = append(ids, domain.LevelID{Kind: domain.HashID, Value: hash})
	}
	return ids, nil
}
