// Package crawler drives the paginated search-filter pipeline: cheap
// structural filtering on catalog pages, then detail resolution and fine
// filtering, until enough qualifying levels are accumulated or the catalog
// runs dry.
package crawler

import (
	"context"
	"log/slog"
	"math"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mmcdole/beatfetch/internal/domain"
)

// InstalledIndex answers whether a content hash is already on disk.
type InstalledIndex interface {
	IsInstalled(hash string) bool
}

// Filters is the full set of crawl criteria. Zero-value bounds are not
// special-cased; use Defaults() for the wide-open configuration.
type Filters struct {
	Count     int // target number of levels
	PageLimit int // catalog page size

	StarsMin, StarsMax         float64
	VoteRatioMin, VoteRatioMax float64
	LengthMin, LengthMax       float64 // seconds
	NotesMin, NotesMax         int
	NPSMin, NPSMax             float64

	Gamemode string // characteristic name, empty matches any
	Search   string // fuzzy title/mapper narrowing, empty is off
}

// Defaults returns filters that accept everything.
func Defaults() Filters {
	return Filters{
		PageLimit:    20,
		StarsMax:     50,
		VoteRatioMax: 1,
		LengthMax:    math.Inf(1),
		NotesMax:     math.MaxInt,
		NPSMax:       math.Inf(1),
	}
}

// Crawler pages through the fast catalog and emits qualifying levels.
type Crawler struct {
	catalog   domain.CatalogRepository
	resolver  domain.DetailResolver
	installed InstalledIndex
	logger    *slog.Logger
}

func New(catalog domain.CatalogRepository, resolver domain.DetailResolver, installed InstalledIndex, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{catalog: catalog, resolver: resolver, installed: installed, logger: logger}
}

// Run crawls until f.Count levels qualify or the catalog is exhausted.
// Exhaustion is not an error; the partial list is returned.
//
// The page index derives from the total number of unfiltered items requested
// so far. It is never reset, so a filtering pass that discards most of a page
// does not cause already-seen pages to be requested again.
func (c *Crawler) Run(ctx context.Context, f Filters) ([]domain.Level, error) {
	var out []domain.Level
	seen := make(map[string]bool) // catalog IDs already considered this session
	requestedUnfiltered := 0

	// A preset can set any page size, including one the arithmetic below
	// cannot take.
	if f.PageLimit < 1 {
		f.PageLimit = 1
	}

	for len(out) < f.Count {
		limit := f.PageLimit
		if remaining := f.Count - len(out); remaining < limit {
			limit = remaining
		}
		page := requestedUnfiltered/limit + 1

		items, err := c.catalog.Page(ctx, page, limit)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			c.logger.Info("catalog exhausted", "found", len(out), "wanted", f.Count)
			break
		}
		requestedUnfiltered += limit

		for _, item := range items {
			if len(out) == f.Count {
				break
			}
			if !c.structuralOK(item, f, seen) {
				continue
			}
			seen[item.ID] = true

			rec, err := c.resolver.Resolve(ctx, domain.ParseLevelID(item.ID))
			if err != nil {
				c.logger.Warn("detail unavailable, skipping", "id", item.ID, "error", err)
				continue
			}
			if !c.fineOK(item, rec, f) {
				continue
			}

			out = append(out, domain.Level{Catalog: item, Detail: rec})
			c.logger.Debug("level qualified", "name", item.Name, "stars", item.Stars)
		}
	}

	return out, nil
}

// structuralOK applies the filters that need nothing beyond catalog fields.
func (c *Crawler) structuralOK(item domain.CatalogItem, f Filters, seen map[string]bool) bool {
	// The catalog lists one entry per difficulty; keep one per level.
	if seen[item.ID] {
		return false
	}
	if c.installed.IsInstalled(item.ID) {
		return false
	}
	if item.Stars < f.StarsMin || item.Stars > f.StarsMax {
		return false
	}
	if f.Search != "" &&
		!fuzzy.MatchFold(f.Search, item.Name) &&
		!fuzzy.MatchFold(f.Search, item.LevelAuthorName) {
		return false
	}
	return true
}

// fineOK applies the filters that need the resolved detail record.
func (c *Crawler) fineOK(item domain.CatalogItem, rec *domain.DetailRecord, f Filters) bool {
	if rec.DirectDownload == "" || len(rec.Characteristics) == 0 {
		c.logger.Warn("skipping level", "id", item.ID, "reason", domain.ErrMalformedDetail)
		return false
	}

	// Catalog IDs are content hashes, but trust the detail record's own hash
	// for the final installed check.
	if c.installed.IsInstalled(rec.Hash) {
		return false
	}

	if ratio := rec.VoteRatio(); ratio < f.VoteRatioMin || ratio > f.VoteRatioMax {
		return false
	}

	// One qualifying (mode, tier) pair is enough.
	for _, char := range rec.Characteristics {
		if f.Gamemode != "" && char.Name != f.Gamemode {
			continue
		}
		for _, tier := range char.Difficulties {
			if tierQualifies(tier, f) {
				return true
			}
		}
	}
	return false
}

func tierQualifies(tier *domain.DifficultyStats, f Filters) bool {
	if tier == nil {
		return false
	}
	// Zero-length tiers are corrupt upstream data, never a valid zero-second level.
	if tier.Length <= 0 {
		return false
	}
	if tier.Length < f.LengthMin || tier.Length > f.LengthMax {
		return false
	}
	if tier.Notes < f.NotesMin || tier.Notes > f.NotesMax {
		return false
	}
	nps := float64(tier.Notes) / tier.Length
	return nps >= f.NPSMin && nps <= f.NPSMax
}
