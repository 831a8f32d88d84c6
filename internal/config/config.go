// Package config loads and saves beatfetch settings: defaults, an optional
// TOML preset file, and BEATFETCH_* environment overrides, in ascending
// precedence. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds all application configuration. Treated as immutable once the
// boundary layers finished assembling it.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Download DownloadConfig `mapstructure:"download"`
	Playlist string         `mapstructure:"playlist"` // playlist to append this session's levels to, empty disables
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	DownloadDir string `mapstructure:"download_dir"` // usually [BeatSaber]/Beat Saber_Data/CustomLevels
	PlaylistDir string `mapstructure:"playlist_dir"` // usually [BeatSaber]/Playlists
	DataDir     string `mapstructure:"data_dir"`     // snapshot db + installed record
	TmpDir      string `mapstructure:"tmp_dir"`      // scratch downloads
}

// CrawlConfig holds search and filter criteria.
type CrawlConfig struct {
	Levels       int     `mapstructure:"levels"`
	RankedOnly   bool    `mapstructure:"ranked_only"`
	Sorting      int     `mapstructure:"sorting"` // 0 trends, 1 date ranked, 2 scores set, 3 star difficulty
	Limit        int     `mapstructure:"limit"`   // catalog page size
	StarsMin     float64 `mapstructure:"stars_min"`
	StarsMax     float64 `mapstructure:"stars_max"`
	VoteRatioMin float64 `mapstructure:"vote_ratio_min"`
	VoteRatioMax float64 `mapstructure:"vote_ratio_max"`
	LengthMin    float64 `mapstructure:"length_min"`
	LengthMax    float64 `mapstructure:"length_max"`
	NotesMin     int     `mapstructure:"notes_min"`
	NotesMax     int     `mapstructure:"notes_max"`
	NPSMin       float64 `mapstructure:"nps_min"`
	NPSMax       float64 `mapstructure:"nps_max"`
	Gamemode     string  `mapstructure:"gamemode"`
	Search       string  `mapstructure:"search"`
}

// DownloadConfig holds fetcher behavior.
type DownloadConfig struct {
	MaxThreads int  `mapstructure:"max_threads"`
	NoExtract  bool `mapstructure:"no_extract"`
	Rescan     bool `mapstructure:"rescan"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// Gamemodes lists the characteristic names BeatSaver knows about.
var Gamemodes = []string{"Standard", "OneSaber", "NoArrows", "Degree90", "Degree360", "Lightshow", "Lawless"}

// DefaultConfig returns the default configuration. Filter bounds default to
// wide open so an unset filter never rejects anything.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: defaultDataPath(),
			TmpDir:  filepath.Join(defaultDataPath(), "tmp"),
		},
		Crawl: CrawlConfig{
			RankedOnly:   true,
			Sorting:      1, // date ranked
			Limit:        20,
			StarsMax:     50,
			VoteRatioMax: 1,
			LengthMax:    math.Inf(1),
			NotesMax:     math.MaxInt,
			NPSMax:       math.Inf(1),
		},
		Download: DownloadConfig{
			MaxThreads: 5,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "beatfetch.log"),
			Level: "INFO",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS.
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "beatfetch")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "beatfetch")
	}
}

// defaultConfigPath returns the default preset directory for the current OS.
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "beatfetch")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "beatfetch")
	}
}

// Load reads configuration from a preset file and the environment. An empty
// presetPath falls back to the default preset locations; a missing default
// preset is fine, a missing explicit one is an error.
func Load(presetPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("toml")
	if presetPath != "" {
		v.SetConfigFile(presetPath)
	} else {
		v.SetConfigName("beatfetch")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BEATFETCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || presetPath != "" {
			if presetPath != "" {
				return nil, fmt.Errorf("error reading preset %s: %w", presetPath, err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No default preset is fine, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as a TOML preset, for --save-preset and for
// persisting assistant answers.
func Save(cfg *Config, path string) error {
	if path == "" {
		if err := os.MkdirAll(defaultConfigPath(), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		path = filepath.Join(defaultConfigPath(), "beatfetch.toml")
	}

	v := viper.New()
	v.SetConfigType("toml")

	v.Set("paths.download_dir", cfg.Paths.DownloadDir)
	v.Set("paths.playlist_dir", cfg.Paths.PlaylistDir)
	v.Set("paths.data_dir", cfg.Paths.DataDir)
	v.Set("paths.tmp_dir", cfg.Paths.TmpDir)

	v.Set("crawl.levels", cfg.Crawl.Levels)
	v.Set("crawl.ranked_only", cfg.Crawl.RankedOnly)
	v.Set("crawl.sorting", cfg.Crawl.Sorting)
	v.Set("crawl.limit", cfg.Crawl.Limit)
	v.Set("crawl.stars_min", cfg.Crawl.StarsMin)
	v.Set("crawl.stars_max", cfg.Crawl.StarsMax)
	v.Set("crawl.vote_ratio_min", cfg.Crawl.VoteRatioMin)
	v.Set("crawl.vote_ratio_max", cfg.Crawl.VoteRatioMax)
	v.Set("crawl.gamemode", cfg.Crawl.Gamemode)

	// Infinity is not representable in TOML; only persist bounds a user set.
	if !math.IsInf(cfg.Crawl.LengthMax, 1) {
		v.Set("crawl.length_min", cfg.Crawl.LengthMin)
		v.Set("crawl.length_max", cfg.Crawl.LengthMax)
	}
	if !math.IsInf(cfg.Crawl.NPSMax, 1) {
		v.Set("crawl.nps_min", cfg.Crawl.NPSMin)
		v.Set("crawl.nps_max", cfg.Crawl.NPSMax)
	}
	if cfg.Crawl.NotesMax != math.MaxInt {
		v.Set("crawl.notes_min", cfg.Crawl.NotesMin)
		v.Set("crawl.notes_max", cfg.Crawl.NotesMax)
	}

	v.Set("download.max_threads", cfg.Download.MaxThreads)
	v.Set("download.no_extract", cfg.Download.NoExtract)

	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write preset: %w", err)
	}
	return nil
}

// IsConfigured reports whether the essential paths are known.
func (c *Config) IsConfigured() bool {
	return c.Paths.DownloadDir != ""
}

// RecordPath is where the installed-item record lives.
func (c *Config) RecordPath() string {
	return filepath.Join(c.Paths.DataDir, "installed.json")
}
