// Package assistant interactively fills in settings the preset and the
// command line left unset. It only ever asks about missing values, so a
// fully specified invocation never prompts.
package assistant

import (
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/mmcdole/beatfetch/internal/config"
)

// Run prompts for anything essential that is still unset and writes the
// answers back into cfg. Returns huh's error when the user aborts.
func Run(cfg *config.Config) error {
	if err := askPaths(cfg); err != nil {
		return err
	}
	if cfg.Crawl.Levels == 0 {
		if err := askFilters(cfg); err != nil {
			return err
		}
	}
	return nil
}

func askPaths(cfg *config.Config) error {
	if cfg.Paths.DownloadDir == "" {
		var dir string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Level install directory").
				Description(`Usually [BeatSaberPath]\Beat Saber_Data\CustomLevels`).
				Value(&dir).
				Validate(notEmpty),
		))
		if err := form.Run(); err != nil {
			return err
		}
		cfg.Paths.DownloadDir = dir
	}

	if cfg.Paths.PlaylistDir == "" {
		guess := filepath.Join(cfg.Paths.DownloadDir, "..", "..", "Playlists")
		dir := guess
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Playlist directory").
				Description("Press enter to accept the suggested path").
				Value(&dir).
				Validate(notEmpty),
		))
		if err := form.Run(); err != nil {
			return err
		}
		cfg.Paths.PlaylistDir = dir
	}

	return nil
}

func askFilters(cfg *config.Config) error {
	var (
		levels    string
		ranked    = cfg.Crawl.RankedOnly
		sorting   = cfg.Crawl.Sorting
		starsMin  = formatFloat(cfg.Crawl.StarsMin)
		starsMax  = formatFloat(cfg.Crawl.StarsMax)
		voteMin   = formatFloat(cfg.Crawl.VoteRatioMin)
		lengthMin = formatFloat(cfg.Crawl.LengthMin)
		lengthMax = formatInfFloat(cfg.Crawl.LengthMax)
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("How many levels do you want to download?").
				Value(&levels).
				Validate(positiveInt),
			huh.NewConfirm().
				Title("Only levels with at least one ranked difficulty?").
				Value(&ranked),
			huh.NewSelect[int]().
				Title("Catalog sorting").
				Options(
					huh.NewOption("Trends", 0),
					huh.NewOption("Date Ranked", 1),
					huh.NewOption("Scores Set", 2),
					huh.NewOption("Star Difficulty (ranked only)", 3),
				).
				Value(&sorting),
		),
		huh.NewGroup(
			huh.NewInput().Title("Minimum stars").Value(&starsMin).Validate(nonNegativeFloat),
			huh.NewInput().Title("Maximum stars").Value(&starsMax).Validate(nonNegativeFloat),
			huh.NewInput().
				Title("Minimum upvote ratio (0-1)").
				Description("Share of positive votes; levels without votes count as 0.5").
				Value(&voteMin).
				Validate(ratio),
			huh.NewInput().Title("Minimum length in seconds").Value(&lengthMin).Validate(nonNegativeFloat),
			huh.NewInput().
				Title("Maximum length in seconds").
				Description("Leave empty for no limit").
				Value(&lengthMax).
				Validate(optionalNonNegativeFloat),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Crawl.Levels, _ = strconv.Atoi(levels)
	cfg.Crawl.RankedOnly = ranked
	cfg.Crawl.Sorting = sorting
	cfg.Crawl.StarsMin = parseFloat(starsMin, 0)
	cfg.Crawl.StarsMax = parseFloat(starsMax, 50)
	cfg.Crawl.VoteRatioMin = parseFloat(voteMin, 0)
	cfg.Crawl.LengthMin = parseFloat(lengthMin, 0)
	cfg.Crawl.LengthMax = parseFloat(lengthMax, math.Inf(1))
	return nil
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("value is required")
	}
	return nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return errors.New("enter a whole number of at least 1")
	}
	return nil
}

func nonNegativeFloat(s string) error {
	f, err := parseUserFloat(s)
	if err != nil || f < 0 {
		return errors.New("enter a non-negative number")
	}
	return nil
}

func optionalNonNegativeFloat(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return nonNegativeFloat(s)
}

func ratio(s string) error {
	f, err := parseUserFloat(s)
	if err != nil || f < 0 || f > 1 {
		return errors.New("enter a value between 0 and 1")
	}
	return nil
}

// parseUserFloat accepts both decimal separators.
func parseUserFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

func parseFloat(s string, fallback float64) float64 {
	f, err := parseUserFloat(s)
	if err != nil {
		return fallback
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatInfFloat(f float64) string {
	if math.IsInf(f, 1) {
		return ""
	}
	return formatFloat(f)
}
