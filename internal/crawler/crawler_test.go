package crawler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/beatfetch/internal/crawler"
	"github.com/mmcdole/beatfetch/internal/domain"
	"github.com/mmcdole/beatfetch/internal/log"
)

// fakeCatalog serves limit-sized windows over one flat item list, the way
// the real leaderboard API pages work.
type fakeCatalog struct {
	items []domain.CatalogItem
	calls int
}

func (f *fakeCatalog) Page(_ context.Context, page, limit int) ([]domain.CatalogItem, error) {
	f.calls++
	start := (page - 1) * limit
	if start >= len(f.items) {
		return nil, nil
	}
	end := start + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	return f.items[start:end], nil
}

// fakeResolver serves detail records by hash; unknown hashes are missing.
type fakeResolver struct {
	records map[string]*domain.DetailRecord
	calls   int
}

func (f *fakeResolver) Resolve(_ context.Context, id domain.LevelID) (*domain.DetailRecord, error) {
	f.calls++
	if rec, ok := f.records[id.Value]; ok {
		return rec, nil
	}
	return nil, domain.ErrDetailNotFound
}

type fakeInstalled map[string]bool

func (f fakeInstalled) IsInstalled(hash string) bool { return f[hash] }

func item(id string, stars float64) domain.CatalogItem {
	return domain.CatalogItem{ID: id, Name: "Song " + id, LevelAuthorName: "Mapper", Stars: stars}
}

func record(hash string, tiers ...domain.DifficultyStats) *domain.DetailRecord {
	diffs := make(map[string]*domain.DifficultyStats)
	names := []string{"easy", "normal", "hard", "expert", "expertPlus"}
	for i := range tiers {
		diffs[names[i]] = &tiers[i]
	}
	return &domain.DetailRecord{
		Hash:           hash,
		Key:            "key-" + hash,
		DirectDownload: "/cdn/" + hash + ".zip",
		UpVotes:        10,
		Characteristics: []domain.Characteristic{
			{Name: "Standard", Difficulties: diffs},
		},
	}
}

func run(t *testing.T, catalog *fakeCatalog, resolver *fakeResolver, installed fakeInstalled, f crawler.Filters) []domain.Level {
	t.Helper()
	c := crawler.New(catalog, resolver, installed, log.NullLogger())
	levels, err := c.Run(context.Background(), f)
	require.NoError(t, err)
	return levels
}

func TestRunPartialResultOnExhaustedCatalog(t *testing.T) {
	catalog := &fakeCatalog{items: []domain.CatalogItem{item("aa", 5), item("bb", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"aa": record("aa", domain.DifficultyStats{Length: 60, Notes: 120}),
		"bb": record("bb", domain.DifficultyStats{Length: 60, Notes: 120}),
	}}

	f := crawler.Defaults()
	f.Count = 5
	f.PageLimit = 1

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	assert.Len(t, levels, 2, "exhaustion returns the partial list, not an error")
}

func TestRunStructuralFilterAndPagination(t *testing.T) {
	// A too-easy level, a qualifier listed twice (the catalog emits one entry
	// per difficulty), and a second qualifier further down the list.
	catalog := &fakeCatalog{items: []domain.CatalogItem{
		item("low", 3.5), item("mid", 5.0), item("mid", 5.0), item("high", 6.0),
	}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"mid":  record("mid", domain.DifficultyStats{Length: 90, Notes: 200}),
		"high": record("high", domain.DifficultyStats{Length: 120, Notes: 300}),
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 3
	f.StarsMin = 4
	f.StarsMax = 6

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 2)
	assert.Equal(t, "mid", levels[0].Catalog.ID)
	assert.Equal(t, "high", levels[1].Catalog.ID)
	assert.Equal(t, 2, resolver.calls, "one resolution per unique structural survivor")
}

func TestRunZeroPageLimit(t *testing.T) {
	catalog := &fakeCatalog{items: []domain.CatalogItem{item("aa", 5), item("bb", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"aa": record("aa", domain.DifficultyStats{Length: 60, Notes: 120}),
		"bb": record("bb", domain.DifficultyStats{Length: 60, Notes: 120}),
	}}

	// A preset with limit = 0 must not take down the crawl.
	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 0

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	assert.Len(t, levels, 2)
}

func TestRunSkipsInstalledLevels(t *testing.T) {
	catalog := &fakeCatalog{items: []domain.CatalogItem{item("owned", 5), item("new", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"owned": record("owned", domain.DifficultyStats{Length: 60, Notes: 100}),
		"new":   record("new", domain.DifficultyStats{Length: 60, Notes: 100}),
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2

	levels := run(t, catalog, resolver, fakeInstalled{"owned": true}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "new", levels[0].Catalog.ID)
}

func TestRunZeroLengthTierNeverQualifies(t *testing.T) {
	catalog := &fakeCatalog{items: []domain.CatalogItem{item("broken", 5), item("fine", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"broken": record("broken", domain.DifficultyStats{Length: 0, Notes: 500}),
		"fine":   record("fine", domain.DifficultyStats{Length: 60, Notes: 100}),
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "fine", levels[0].Catalog.ID)
}

func TestRunVoteRatioFilter(t *testing.T) {
	disliked := record("disliked", domain.DifficultyStats{Length: 60, Notes: 100})
	disliked.UpVotes, disliked.DownVotes = 1, 9

	unvoted := record("unvoted", domain.DifficultyStats{Length: 60, Notes: 100})
	unvoted.UpVotes, unvoted.DownVotes = 0, 0

	catalog := &fakeCatalog{items: []domain.CatalogItem{item("disliked", 5), item("unvoted", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"disliked": disliked,
		"unvoted":  unvoted,
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2
	f.VoteRatioMin = 0.5 // zero votes counts as exactly 0.5 and passes

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "unvoted", levels[0].Catalog.ID)
}

func TestRunGamemodeFilter(t *testing.T) {
	oneSaber := record("onesaber", domain.DifficultyStats{Length: 60, Notes: 100})
	oneSaber.Characteristics[0].Name = "OneSaber"

	catalog := &fakeCatalog{items: []domain.CatalogItem{item("onesaber", 5), item("standard", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"onesaber": oneSaber,
		"standard": record("standard", domain.DifficultyStats{Length: 60, Notes: 100}),
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2
	f.Gamemode = "Standard"

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "standard", levels[0].Catalog.ID)
}

func TestRunMissingDetailIsSkipped(t *testing.T) {
	catalog := &fakeCatalog{items: []domain.CatalogItem{item("ghost", 5), item("real", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"real": record("real", domain.DifficultyStats{Length: 60, Notes: 100}),
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "real", levels[0].Catalog.ID)
}

func TestRunNotesAndNPSBounds(t *testing.T) {
	sparse := record("sparse", domain.DifficultyStats{Length: 100, Notes: 50}) // 0.5 nps
	dense := record("dense", domain.DifficultyStats{Length: 100, Notes: 800})  // 8 nps

	catalog := &fakeCatalog{items: []domain.CatalogItem{item("sparse", 5), item("dense", 5)}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"sparse": sparse,
		"dense":  dense,
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2
	f.NPSMin = 2

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "dense", levels[0].Catalog.ID)
}

func TestRunSearchNarrowing(t *testing.T) {
	match := item("match", 5)
	match.Name = "Through the Fire"
	other := item("other", 5)
	other.Name = "Quiet Morning"

	catalog := &fakeCatalog{items: []domain.CatalogItem{match, other}}
	resolver := &fakeResolver{records: map[string]*domain.DetailRecord{
		"match": record("match", domain.DifficultyStats{Length: 60, Notes: 100}),
		"other": record("other", domain.DifficultyStats{Length: 60, Notes: 100}),
	}}

	f := crawler.Defaults()
	f.Count = 2
	f.PageLimit = 2
	f.Search = "fire"

	levels := run(t, catalog, resolver, fakeInstalled{}, f)
	require.Len(t, levels, 1)
	assert.Equal(t, "match", levels[0].Catalog.ID)
}
