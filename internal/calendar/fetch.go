package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"heraldbot/pkg/logx"
)

// Options configures a Feed.
type Options struct {
	// URL is the ICS endpoint. Required.
	URL string
	// Timeout bounds a single fetch. Default 20s.
	Timeout time.Duration
	// Lookback and Horizon bound expansion around the current time.
	Lookback time.Duration
	Horizon  time.Duration

	Log logx.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Feed fetches and expands a single ICS subscription. The last body and
// its HTTP validators are kept in memory, so an unchanged feed costs a
// 304 instead of a re-download and a flaky upstream degrades to stale
// data instead of an empty poll.
type Feed struct {
	url      string
	client   *http.Client
	lookback time.Duration
	horizon  time.Duration
	log      logx.Logger
	now      func() time.Time

	mu           sync.Mutex
	etag         string
	lastModified string
	body         []byte
}

// NewFeed builds a Feed from Options.
func NewFeed(opt Options) (*Feed, error) {
	if opt.URL == "" {
		return nil, errors.New("calendar: feed URL is empty")
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Feed{
		url:      opt.URL,
		client:   &http.Client{Timeout: timeout},
		lookback: opt.Lookback,
		horizon:  opt.Horizon,
		log:      opt.Log,
		now:      now,
	}, nil
}

// SetURL swaps the feed endpoint. Cached validators and body belong to
// the old endpoint, so they are dropped and the next poll fetches the
// new feed unconditionally.
func (f *Feed) SetURL(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raw == "" || raw == f.url {
		return
	}
	f.url = raw
	f.etag = ""
	f.lastModified = ""
	f.body = nil
}

// Events fetches the feed and expands it into concrete occurrences
// inside the configured window around the current time.
func (f *Feed) Events(ctx context.Context) ([]Event, error) {
	body, fromCache, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := parseFeed(body, f.log)
	if err != nil {
		return nil, err
	}
	now := f.now().UTC()
	events := expand(entries, now.Add(-f.lookback), now.Add(f.horizon), f.log)
	f.log.Debug("feed refreshed",
		logx.Bool("from_cache", fromCache),
		logx.Int("entries", len(entries)),
		logx.Int("events", len(events)))
	return events, nil
}

func (f *Feed) fetch(ctx context.Context) (body []byte, fromCache bool, err error) {
	f.mu.Lock()
	target := f.url
	etag, lastModified := f.etag, f.lastModified
	cached := f.body
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			f.log.Warn("feed fetch failed; using cached body",
				logx.Err(err), logx.String("url", redactURL(target)))
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("calendar: fetch %s: %w", redactURL(target), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fresh, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("calendar: read %s: %w", redactURL(target), err)
		}
		f.mu.Lock()
		// Validators describe the URL that was actually fetched.
		if f.url == target {
			f.etag = resp.Header.Get("ETag")
			f.lastModified = resp.Header.Get("Last-Modified")
			f.body = fresh
		}
		f.mu.Unlock()
		return fresh, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, fmt.Errorf("calendar: %s returned 304 with no cached body", redactURL(target))
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			f.log.Warn("feed fetch non-OK; using cached body",
				logx.String("url", redactURL(target)), logx.Int("status", resp.StatusCode))
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("calendar: fetch %s: %s", redactURL(target), resp.Status)
	}
}

// redactURL keeps only scheme and host. Feed URLs routinely carry
// secret tokens in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "feed"
	}
	return u.Scheme + "://" + u.Host
}
