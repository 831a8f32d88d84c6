package beatsaver

// mapDetailDTO mirrors one BeatSaver map record. The scraped snapshot uses
// capitalized keys ("Hash", "Key", ...) for the same shape; encoding/json's
// case-insensitive field matching covers both.
type mapDetailDTO struct {
	Key            string      `json:"key"`
	Hash           string      `json:"hash"`
	DirectDownload string      `json:"directDownload"`
	Uploader       uploaderDTO `json:"uploader"`
	Stats          statsDTO    `json:"stats"`
	Metadata       metadataDTO `json:"metadata"`
}

type uploaderDTO struct {
	Username string `json:"username"`
}

type statsDTO struct {
	UpVotes   int `json:"upVotes"`
	DownVotes int `json:"downVotes"`
}

type metadataDTO struct {
	SongName        string              `json:"songName"`
	SongAuthorName  string              `json:"songAuthorName"`
	LevelAuthorName string              `json:"levelAuthorName"`
	Characteristics []characteristicDTO `json:"characteristics"`
}

type characteristicDTO struct {
	Name         string                    `json:"name"`
	Difficulties map[string]*difficultyDTO `json:"difficulties"`
}

type difficultyDTO struct {
	Length float64 `json:"length"`
	Notes  int     `json:"notes"`
}
