package domain

import "errors"

// Sentinel errors for catalog, cache and download operations
var (
	// ErrMissingManifest indicates a level directory or archive has no info.dat
	ErrMissingManifest = errors.New("level manifest (info.dat) not found")

	// ErrDetailNotFound indicates BeatSaver has no record for the requested level
	ErrDetailNotFound = errors.New("level detail not found")

	// ErrMalformedDetail indicates a detail record is missing required substructure
	ErrMalformedDetail = errors.New("level detail record is malformed")

	// ErrCorruptArchive indicates a downloaded level archive failed to extract
	ErrCorruptArchive = errors.New("level archive is corrupt")

	// ErrSnapshotUnavailable indicates the bulk snapshot could not be fetched or extracted
	ErrSnapshotUnavailable = errors.New("scraped snapshot is unavailable")

	// ErrCatalogOffline indicates the fast catalog is unreachable
	ErrCatalogOffline = errors.New("catalog is unreachable")
)
