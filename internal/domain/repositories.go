package domain

import (
	"context"
	"io"
)

// CatalogRepository is the fast, low-detail discovery service (ScoreSaber).
type CatalogRepository interface {
	// Page returns one page of the leaderboard catalog. Pages are 1-based.
	// An empty slice with a nil error means the catalog is exhausted.
	Page(ctx context.Context, page, limit int) ([]CatalogItem, error)
}

// DetailRepository serves full per-level records (BeatSaver).
type DetailRepository interface {
	// Detail resolves a single level by hash or key.
	// Returns ErrDetailNotFound when the upstream has no such level.
	Detail(ctx context.Context, id LevelID) (*DetailRecord, error)
}

// DetailResolver looks up detail records, consulting a local cache before the
// remote service. Implemented by cache.Cache.
type DetailResolver interface {
	Resolve(ctx context.Context, id LevelID) (*DetailRecord, error)
}

// MapDownloader streams a level archive. The path is the DirectDownload
// locator from a DetailRecord, relative to the download host.
type MapDownloader interface {
	DownloadMap(ctx context.Context, directDownload string, dst io.Writer) error
}

// SnapshotFetcher retrieves the bulk scraped-data archive used to seed the
// local detail cache.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, dst io.Writer) error
}
