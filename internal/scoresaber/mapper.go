package scoresaber

import "github.com/mmcdole/beatfetch/internal/domain"

// MapSongs converts leaderboard DTOs to domain catalog items.
func MapSongs(songs []songDTO) []domain.CatalogItem {
	items := make([]domain.CatalogItem, 0, len(songs))
	for _, s := range songs {
		items = append(items, domain.CatalogItem{
			ID:              s.ID,
			Name:            s.Name,
			LevelAuthorName: s.LevelAuthorName,
			Difficulty:      s.Diff,
			Stars:           s.Stars,
		})
	}
	return items
}
