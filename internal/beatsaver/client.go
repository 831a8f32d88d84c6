// Package beatsaver implements the detail side of the pipeline: per-level
// metadata lookups, level archive downloads, and the bulk scraped-data
// snapshot that seeds the local cache.
package beatsaver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/beatfetch/internal/domain"
)

const (
	defaultBaseURL = "https://beatsaver.com"

	// Daily dump of every BeatSaver record, maintained out-of-band. Using it
	// avoids hammering the per-level API hundreds of times per crawl.
	defaultSnapshotURL = "https://github.com/andruzzzhka/BeatSaberScrappedData/raw/master/combinedScrappedData.zip"

	defaultTimeout = 30 * time.Second

	// BeatSaver's Cloudflare front refuses requests without an identifying
	// User-Agent.
	userAgent = "beatfetch/1.0"
)

// Client implements domain.DetailRepository, domain.MapDownloader and
// domain.SnapshotFetcher for BeatSaver.
type Client struct {
	baseURL     string
	snapshotURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a new BeatSaver API client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     defaultBaseURL,
		snapshotURL: defaultSnapshotURL,
		// No timeout here: snapshot and level downloads are large transfers
		// and per-request deadlines come from the caller's context.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// SetBaseURL overrides the API host, used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// SetSnapshotURL overrides the snapshot location, used by tests.
func (c *Client) SetSnapshotURL(u string) {
	c.snapshotURL = u
}

func (c *Client) get(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("beatsaver request", "url", reqURL)
	return c.httpClient.Do(req)
}

// Detail resolves a single level record by hash or key.
func (c *Client) Detail(ctx context.Context, id domain.LevelID) (*domain.DetailRecord, error) {
	var path string
	switch id.Kind {
	case domain.HashID:
		path = fmt.Sprintf("/api/maps/by-hash/%s", id.Value)
	case domain.KeyID:
		path = fmt.Sprintf("/api/maps/detail/%s", id.Value)
	default:
		return nil, fmt.Errorf("unknown identifier kind %d", id.Kind)
	}

	resp, err := c.get(ctx, c.baseURL+path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrDetailNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var dto mapDetailDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		c.logger.Warn("beatsaver detail parse failed", "id", id.Value, "error", err)
		return nil, fmt.Errorf("%s: %w", id, domain.ErrDetailNotFound)
	}

	return MapDetail(dto), nil
}

// DownloadMap streams a level archive into dst.
func (c *Client) DownloadMap(ctx context.Context, directDownload string, dst io.Writer) error {
	resp, err := c.get(ctx, c.baseURL+directDownload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to download %s: %w", directDownload, err)
	}
	return nil
}

// FetchSnapshot streams the scraped-data zip into dst.
func (c *Client) FetchSnapshot(ctx context.Context, dst io.Writer) error {
	resp, err := c.get(ctx, c.snapshotURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrSnapshotUnavailable, resp.StatusCode)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}
	return nil
}
