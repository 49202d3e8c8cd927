package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "evcal/internal/log"
)

// maxFeedBytes caps a single feed body.
const maxFeedBytes = 16 << 20

// Feed is one subscribed ICS source and the defaults applied to the events
// it produces.
type Feed struct {
	ID  string
	URL string
	// Category is the slug every imported event is tagged with.
	Category     string
	CategoryName string
	Organizer    string
	// Online marks every event of the feed as online.
	Online bool
	// Timezone is used for floating times and as the event display zone
	// when the VEVENT carries no TZID.
	Timezone string
}

// FetchResult is the body obtained for one feed.
type FetchResult struct {
	Feed Feed
	Body []byte
	// FromCache is set when the body came from disk (304 or fallback).
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk so a flaky upstream does not empty the calendar.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir
// (default "./var/ics-cache").
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches feeds in order. Results hold only feeds that produced a
// body; per-feed failures are joined into the returned error.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]FetchResult, error) {
	results := make([]FetchResult, 0, len(feeds))
	var errs []error
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := f.FetchOne(ctx, feed)
		if err != nil {
			appLog.Error("ics fetch failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// FetchOne fetches a single feed honouring ETag and Last-Modified.
func (f *Fetcher) FetchOne(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	dir := f.cacheDirFor(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.URL == feed.URL && len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "feed", feed.ID, "url", redactURL(feed.URL))

	fallback := func(cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, cause
		}
		appLog.Warn("ics fetch failed, using cached body", "feed", feed.ID, "url", redactURL(feed.URL), "error", cause.Error())
		return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return fallback(err)
		}
		next := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(dir, next, body); err != nil {
			appLog.Error("ics cache save failed", err, "feed", feed.ID)
		}
		appLog.Info("ics fetched", "feed", feed.ID, "bytes", len(body))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "feed", feed.ID)
		return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cacheDirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so meta never points at a
// missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often carry private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
