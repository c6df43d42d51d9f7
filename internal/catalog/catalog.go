// Package catalog fetches and decodes the upstream release listing. The
// catalog is replaced wholesale on each successful fetch; decoding is
// lenient the way the upstream API demands: releases without a tag and
// assets without a name are dropped silently, and an unparseable
// publication timestamp degrades to a zero time rather than failing the
// listing.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mbfetch/mbfetch/internal/classify"
	"github.com/mbfetch/mbfetch/internal/safety"
)

// DefaultURL is the release listing consumed when no override is
// configured.
const DefaultURL = "https://api.github.com/repos/niXman/mingw-builds-binaries/releases"

const (
	defaultUserAgent        = "mbfetch/1.0"
	defaultTimeout          = 30 * time.Second
	defaultCacheSize        = 8
	maxCatalogResponseBytes = int64(32 * 1024 * 1024)
)

// FetchError is a transport or status failure retrieving the listing.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching release catalog from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError is a malformed listing document.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding release catalog: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Asset is one downloadable archive belonging to a release. Immutable
// after decode; Tags are derived from the name exactly once.
type Asset struct {
	Name               string        `json:"name"`
	Size               int64         `json:"size"`
	BrowserDownloadURL string        `json:"browser_download_url"`
	Tags               classify.Tags `json:"tags"`
}

// ClassTags exposes the derived tags for filtering.
func (a Asset) ClassTags() classify.Tags { return a.Tags }

// Release is one tagged, timestamped publication with its assets in the
// order the listing delivered them.
type Release struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Label renders the listing form "tag (YYYY-MM-DD)", falling back to the
// bare tag when the publication time is unknown.
func (r Release) Label() string {
	if r.PublishedAt.IsZero() {
		return r.TagName
	}
	return fmt.Sprintf("%s (%s)", r.TagName, r.PublishedAt.Format("2006-01-02"))
}

// Wire shapes. Timestamps arrive as strings and are parsed leniently.
type releaseDoc struct {
	TagName     string     `json:"tag_name"`
	PublishedAt string     `json:"published_at"`
	Assets      []assetDoc `json:"assets"`
}

type assetDoc struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type cacheEntry struct {
	etag      string
	releases  []Release
	fetchedAt time.Time
}

// Options configures a catalog client. Zero values take defaults.
type Options struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	CacheSize int
}

// Client retrieves the release listing over HTTPS with conditional
// revalidation: responses are cached with their ETag and reused when the
// server answers 304.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	url        string
	userAgent  string
	cache      *lru.Cache[string, cacheEntry]
}

// NewClient creates a catalog client.
func NewClient(logger *slog.Logger, opts Options) (*Client, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}

	if _, err := safety.ValidateHTTPURL(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}
	cache, err := lru.New[string, cacheEntry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating catalog cache: %w", err)
	}

	return &Client{
		httpClient: safety.NewHTTPClient(opts.Timeout),
		logger:     logger,
		url:        opts.URL,
		userAgent:  opts.UserAgent,
		cache:      cache,
	}, nil
}

// Releases fetches the current listing. A 304 revalidation reuses the
// cached decode for the same URL.
func (c *Client) Releases(ctx context.Context) ([]Release, error) {
	cached, hasCached := c.cache.Get(c.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if hasCached && cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasCached {
		c.logger.Debug("release catalog unchanged",
			slog.String("etag", cached.etag),
			slog.Time("fetched_at", cached.fetchedAt))
		return cached.releases, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := safety.ReadAllWithLimit(resp.Body, maxCatalogResponseBytes)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}

	releases, err := decodeReleases(body)
	if err != nil {
		return nil, err
	}

	c.cache.Add(c.url, cacheEntry{
		etag:      resp.Header.Get("ETag"),
		releases:  releases,
		fetchedAt: time.Now(),
	})
	c.logger.Debug("release catalog fetched",
		slog.Int("releases", len(releases)))
	return releases, nil
}

// Latest returns the first release of the listing, which the upstream
// orders newest first.
func (c *Client) Latest(ctx context.Context) (Release, error) {
	releases, err := c.Releases(ctx)
	if err != nil {
		return Release{}, err
	}
	if len(releases) == 0 {
		return Release{}, fmt.Errorf("release catalog is empty")
	}
	return releases[0], nil
}

// Release finds a release by its tag.
func (c *Client) Release(ctx context.Context, tag string) (Release, error) {
	releases, err := c.Releases(ctx)
	if err != nil {
		return Release{}, err
	}
	for _, r := range releases {
		if r.TagName == tag {
			return r, nil
		}
	}
	return Release{}, fmt.Errorf("release %q not found in catalog", tag)
}

// decodeReleases converts the wire document into the immutable in-memory
// catalog, classifying every asset name as it goes.
func decodeReleases(data []byte) ([]Release, error) {
	var docs []releaseDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, &DecodeError{Err: err}
	}

	releases := make([]Release, 0, len(docs))
	for _, doc := range docs {
		if doc.TagName == "" {
			continue
		}

		var publishedAt time.Time
		if doc.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, doc.PublishedAt); err == nil {
				publishedAt = ts
			}
		}

		assets := make([]Asset, 0, len(doc.Assets))
		for _, a := range doc.Assets {
			if a.Name == "" {
				continue
			}
			assets = append(assets, Asset{
				Name:               a.Name,
				Size:               a.Size,
				BrowserDownloadURL: a.BrowserDownloadURL,
				Tags:               classify.Classify(a.Name),
			})
		}

		releases = append(releases, Release{
			TagName:     doc.TagName,
			PublishedAt: publishedAt,
			Assets:      assets,
		})
	}
	return releases, nil
}
