package scoresaber

// leaderboardsResponse is the envelope of the get-leaderboards call.
type leaderboardsResponse struct {
	Songs []songDTO `json:"songs"`
}

// songDTO mirrors one leaderboard entry. ScoreSaber emits one entry per
// ranked difficulty, so "id" repeats across entries of the same level.
type songDTO struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	SongAuthorName  string  `json:"songAuthorName"`
	LevelAuthorName string  `json:"levelAuthorName"`
	Diff            string  `json:"diff"`
	Stars           float64 `json:"stars"`
}
