package skylight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	appLog "skylightcal/internal/log"
)

const (
	defaultTimeout = 30 * time.Second

	// TimeFormat is the layout the API expects for after/before parameters.
	TimeFormat = "2006-01-02T15:04:05.000Z"

	// DumpFile is the name of the raw response written to the dump directory.
	DumpFile = "data.json"
)

// RequestObserver is notified after every API request. status is 0 on
// transport errors.
type RequestObserver func(endpoint string, status int, fromCache bool, elapsed time.Duration)

// Client talks to the vendor API on behalf of one Session.
type Client struct {
	baseURL  string
	base     *http.Client
	http     *http.Client
	cache    *responseCache
	dumpDir  string
	observer RequestObserver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying client the authorized transport wraps.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithCacheDir enables the conditional-GET disk cache under dir.
func WithCacheDir(dir string) Option {
	return func(c *Client) { c.cache = newResponseCache(dir) }
}

// WithDumpDir makes the client write each raw calendar response to
// dir/data.json.
func WithDumpDir(dir string) Option {
	return func(c *Client) { c.dumpDir = dir }
}

// WithObserver registers a RequestObserver.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient returns a Client that authenticates every request with sess.
func NewClient(ctx context.Context, baseURL string, sess Session, opts ...Option) (*Client, error) {
	if !sess.Valid() {
		return nil, errors.New("skylight: session has no user id or token")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("skylight: base URL is empty")
	}

	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.base == nil {
		c.base = &http.Client{Timeout: defaultTimeout}
	}

	// oauth2.NewClient picks the base client up from the context and keeps
	// its timeout.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	c.http = oauth2.NewClient(ctx, sess.TokenSource())
	return c, nil
}

// FetchResult is a decoded API response.
type FetchResult struct {
	Document  *Document
	Body      []byte
	FromCache bool
}

// Frames lists the frames visible to the session, including deleted ones.
func (c *Client) Frames(ctx context.Context) ([]Frame, error) {
	res, err := c.get(ctx, "frames", c.baseURL+"/frames?show_deleted=true")
	if err != nil {
		return nil, err
	}
	return framesFromDocument(res.Document), nil
}

// CalendarEvents fetches calendar events of frameID between after and
// before, with categories and calendar accounts in the included section.
func (c *Client) CalendarEvents(ctx context.Context, frameID string, after, before time.Time) (FetchResult, error) {
	res, err := c.calendarEvents(ctx, frameID, after, before)
	if err != nil {
		return FetchResult{}, err
	}
	c.dump(res.Body)
	return res, nil
}

func (c *Client) calendarEvents(ctx context.Context, frameID string, after, before time.Time) (FetchResult, error) {
	if frameID == "" {
		return FetchResult{}, errors.New("skylight: frame id is empty")
	}
	q := url.Values{}
	q.Set("after", after.UTC().Format(TimeFormat))
	q.Set("before", before.UTC().Format(TimeFormat))
	endpoint := fmt.Sprintf("%s/frames/%s/calendar_events?%s", c.baseURL, url.PathEscape(frameID), q.Encode())

	return c.get(ctx, "calendar_events", endpoint)
}

// CalendarEventsRange fetches [after, before) in windows of at most window
// and merges the responses. A non-positive window issues a single request.
// With several windows the merged document is dumped once.
func (c *Client) CalendarEventsRange(ctx context.Context, frameID string, after, before time.Time, window time.Duration) (*Document, error) {
	if !before.After(after) {
		return nil, fmt.Errorf("skylight: empty range %s .. %s", after.Format(time.RFC3339), before.Format(time.RFC3339))
	}
	if window <= 0 || before.Sub(after) <= window {
		res, err := c.CalendarEvents(ctx, frameID, after, before)
		if err != nil {
			return nil, err
		}
		return res.Document, nil
	}

	var docs []*Document
	for start := after; start.Before(before); start = start.Add(window) {
		end := start.Add(window)
		if end.After(before) {
			end = before
		}
		res, err := c.calendarEvents(ctx, frameID, start, end)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", start.UTC().Format(TimeFormat), err)
		}
		docs = append(docs, res.Document)
	}

	merged := MergeDocuments(docs...)
	if c.dumpDir != "" {
		body, err := json.Marshal(merged)
		if err != nil {
			appLog.Error("encoding merged document for dump failed", err)
		} else {
			c.dump(body)
		}
	}
	return merged, nil
}

// MergeDocuments concatenates documents, dropping records whose type and id
// were already seen. TotalEventCount is the number of merged data records
// when any input reported a count, and nil otherwise.
func MergeDocuments(docs ...*Document) *Document {
	out := &Document{}
	seenData := make(map[string]struct{})
	seenIncl := make(map[string]struct{})
	counted := false

	for _, d := range docs {
		if d == nil {
			continue
		}
		if d.Meta.TotalEventCount != nil {
			counted = true
		}
		for _, r := range d.Data {
			if r.ID != "" {
				if _, ok := seenData[r.Key()]; ok {
					continue
				}
				seenData[r.Key()] = struct{}{}
			}
			out.Data = append(out.Data, r)
		}
		for _, r := range d.Included {
			if r.ID != "" {
				if _, ok := seenIncl[r.Key()]; ok {
					continue
				}
				seenIncl[r.Key()] = struct{}{}
			}
			out.Included = append(out.Included, r)
		}
	}
	if counted {
		n := len(out.Data)
		out.Meta.TotalEventCount = &n
	}
	return out
}

// get performs a conditional GET and decodes the body as a Document.
// On transport errors or non-OK statuses other than auth failures, a cached
// body is used when one exists.
func (c *Client) get(ctx context.Context, name, endpoint string) (FetchResult, error) {
	meta, cachedBody := c.cache.load(endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("skylight request start", "endpoint", name, "url", appLog.RedactURL(endpoint))
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(name, 0, false, started)
		if len(cachedBody) > 0 && ctx.Err() == nil {
			appLog.Error("skylight request failed, using cached body", err, "endpoint", name)
			return c.decode(cachedBody, true)
		}
		return FetchResult{}, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.observe(name, resp.StatusCode, false, started)
			return FetchResult{}, fmt.Errorf("reading %s response: %w", name, err)
		}
		c.observe(name, resp.StatusCode, false, started)

		res, err := c.decode(body, false)
		if err != nil {
			return FetchResult{}, err
		}
		newMeta := cacheMeta{
			URL:          endpoint,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := c.cache.save(newMeta, body); err != nil {
			appLog.Error("skylight cache save failed", err, "endpoint", name)
		}
		appLog.Info("skylight request success", "endpoint", name, "status", resp.StatusCode,
			"records", len(res.Document.Data), "included", len(res.Document.Included))
		return res, nil

	case resp.StatusCode == http.StatusNotModified:
		c.observe(name, resp.StatusCode, true, started)
		if len(cachedBody) == 0 {
			return FetchResult{}, fmt.Errorf("%s: received 304 Not Modified but no cached body available", name)
		}
		appLog.Info("skylight response not modified; using cache", "endpoint", name)
		return c.decode(cachedBody, true)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.observe(name, resp.StatusCode, false, started)
		return FetchResult{}, fmt.Errorf("%w: %s returned %d", ErrUnauthorized, name, resp.StatusCode)

	default:
		c.observe(name, resp.StatusCode, false, started)
		if len(cachedBody) > 0 {
			appLog.Error("skylight request non-OK, using cached body", errors.New(resp.Status), "endpoint", name, "status", resp.StatusCode)
			return c.decode(cachedBody, true)
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return FetchResult{}, fmt.Errorf("%s returned %s: %s", name, resp.Status, strings.TrimSpace(string(snippet)))
	}
}

func (c *Client) decode(body []byte, fromCache bool) (FetchResult, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return FetchResult{}, fmt.Errorf("decoding response: %w", err)
	}
	return FetchResult{Document: &doc, Body: body, FromCache: fromCache}, nil
}

func (c *Client) observe(name string, status int, fromCache bool, started time.Time) {
	if c.observer != nil {
		c.observer(name, status, fromCache, time.Since(started))
	}
}

// dump writes body, indented, to the dump directory. Failures are logged only.
func (c *Client) dump(body []byte) {
	if c.dumpDir == "" {
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		buf.Reset()
		buf.Write(body)
	}
	if err := os.MkdirAll(c.dumpDir, 0o700); err != nil {
		appLog.Error("dump dir create failed", err, "dir", c.dumpDir)
		return
	}
	path := filepath.Join(c.dumpDir, DumpFile)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		appLog.Error("dump write failed", err, "path", path)
		return
	}
	appLog.Debug("raw response dumped", "path", path)
}
