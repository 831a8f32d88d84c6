// Package scoresaber implements domain.CatalogRepository against the
// ScoreSaber leaderboard API, the fast discovery side of the pipeline.
package scoresaber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcdole/beatfetch/internal/domain"
)

const (
	defaultBaseURL = "https://scoresaber.com"
	defaultTimeout = 30 * time.Second

	// ScoreSaber sits behind Cloudflare, which rejects requests without a
	// distinguishing client identifier.
	userAgent = "beatfetch/1.0"
)

// Sort selects the server-side ordering of the leaderboard catalog.
type Sort int

const (
	SortTrends Sort = iota
	SortDateRanked
	SortScoresSet
	SortStarDifficulty
)

// Client implements domain.CatalogRepository for ScoreSaber.
type Client struct {
	baseURL    string
	sort       Sort
	rankedOnly bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ScoreSaber API client. Sort mode and the
// ranked-only flag apply to every page the client serves.
func NewClient(sort Sort, rankedOnly bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    defaultBaseURL,
		sort:       sort,
		rankedOnly: rankedOnly,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// SetBaseURL overrides the API host, used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// Page returns one page of the leaderboard catalog. Pages are 1-based; an
// empty result means the catalog is exhausted under the current flags.
func (c *Client) Page(ctx context.Context, page, limit int) ([]domain.CatalogItem, error) {
	query := url.Values{}
	query.Set("function", "get-leaderboards")
	query.Set("cat", strconv.Itoa(int(c.sort)))
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	if c.rankedOnly {
		query.Set("ranked", "1")
	} else {
		query.Set("ranked", "0")
	}

	reqURL := fmt.Sprintf("%s/api.php?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("scoresaber request", "page", page, "limit", limit)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("scoresaber request failed", "error", err)
		return nil, domain.ErrCatalogOffline
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("scoresaber request error", "status", resp.StatusCode)
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var parsed leaderboardsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return MapSongs(parsed.Songs), nil
}
