package domain

// CatalogItem is a single entry from the fast catalog (ScoreSaber leaderboards).
// The catalog lists one entry per difficulty, so the same ID can appear several
// times within one page; the crawler collapses those.
type CatalogItem struct {
	ID              string  // content hash, as ScoreSaber reports it
	Name            string  // song title
	LevelAuthorName string  // mapper
	Difficulty      string  // raw difficulty label, e.g. "_Expert_SoloStandard"
	Stars           float64 // ranked star rating, 0 for unranked
}

// DifficultyStats describes one tier inside a characteristic.
// A Length of 0 marks the tier as corrupt upstream data and it must never
// qualify during filtering.
type DifficultyStats struct {
	Length float64 `json:"length"` // seconds
	Notes  int     `json:"notes"`
}

// Characteristic is one gameplay mode (Standard, OneSaber, ...) with its
// per-tier stats. Tiers that the mapper did not provide are nil.
type Characteristic struct {
	Name         string                      `json:"name"`
	Difficulties map[string]*DifficultyStats `json:"difficulties"`
}

// DetailRecord is the full BeatSaver view of a level, either from the bulk
// snapshot or from a per-level API call.
type DetailRecord struct {
	Key             string           `json:"key"`
	Hash            string           `json:"hash"`
	DirectDownload  string           `json:"directDownload"`
	UploaderName    string           `json:"uploaderName"`
	SongName        string           `json:"songName"`
	SongAuthorName  string           `json:"songAuthorName"`
	LevelAuthorName string           `json:"levelAuthorName"`
	UpVotes         int              `json:"upVotes"`
	DownVotes       int              `json:"downVotes"`
	Characteristics []Characteristic `json:"characteristics"`
}

// VoteRatio returns upvotes over total votes. A level nobody voted on is
// treated as neutral (0.5) rather than as the worst or best possible score.
func (d *DetailRecord) VoteRatio() float64 {
	total := d.UpVotes + d.DownVotes
	if total == 0 {
		return 0.5
	}
	return float64(d.UpVotes) / float64(total)
}

// Level pairs a catalog entry with its resolved detail record. This is the
// unit of work handed to the fetcher and the playlist writer.
type Level struct {
	Catalog CatalogItem
	Detail  *DetailRecord
}
