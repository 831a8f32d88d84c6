package beatsaver

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mmcdole/beatfetch/internal/domain"
)

// MapDetail converts a BeatSaver DTO to the domain record.
func MapDetail(dto mapDetailDTO) *domain.DetailRecord {
	chars := make([]domain.Characteristic, 0, len(dto.Metadata.Characteristics))
	for _, c := range dto.Metadata.Characteristics {
		diffs := make(map[string]*domain.DifficultyStats, len(c.Difficulties))
		for tier, d := range c.Difficulties {
			if d == nil {
				continue
			}
			diffs[tier] = &domain.DifficultyStats{Length: d.Length, Notes: d.Notes}
		}
		chars = append(chars, domain.Characteristic{Name: c.Name, Difficulties: diffs})
	}

	return &domain.DetailRecord{
		Key:             dto.Key,
		Hash:            dto.Hash,
		DirectDownload:  dto.DirectDownload,
		UploaderName:    dto.Uploader.Username,
		SongName:        dto.Metadata.SongName,
		SongAuthorName:  dto.Metadata.SongAuthorName,
		LevelAuthorName: dto.Metadata.LevelAuthorName,
		UpVotes:         dto.Stats.UpVotes,
		DownVotes:       dto.Stats.DownVotes,
		Characteristics: chars,
	}
}

// DecodeSnapshot streams the scraped-data JSON array from r, invoking fn for
// each record. Decoding element-by-element keeps the multi-hundred-megabyte
// dump out of memory.
func DecodeSnapshot(r io.Reader, fn func(*domain.DetailRecord) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("snapshot is not a JSON array")
	}

	for dec.More() {
		var dto mapDetailDTO
		if err := dec.Decode(&dto); err != nil {
			return fmt.Errorf("decoding snapshot record: %w", err)
		}
		if err := fn(MapDetail(dto)); err != nil {
			return err
		}
	}
	return nil
}
