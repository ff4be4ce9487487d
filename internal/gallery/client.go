package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrBadListing marks a malformed or logically failing listing response.
var ErrBadListing = errors.New("gallery: malformed listing response")

const (
	defaultListingTimeout = 20 * time.Second
	maxListingBody        = 8 << 20
)

// Client fetches listing pages from the remote gallery API.
//
// The backend has gone through several response shapes over time. A page is
// normalized by probing, in priority order:
//
//	items:  "items", then "result.items", then "result.data"
//	cursor: "cursor", then "nextCursor", at the top level first and then
//	        nested under "result"
//
// The rest of the system only ever sees the normalized Page.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a listing client for the given endpoint URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultListingTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListPage requests one page of the listing starting at cursor.
func (c *Client) ListPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	reqURL, err := c.pageURL(cursor, limit)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d", ErrBadListing, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, fmt.Errorf("read listing body: %w", err)
	}
	return NormalizePage(body)
}

func (c *Client) pageURL(cursor string, limit int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type rawNested struct {
	Items      json.RawMessage `json:"items"`
	Data       json.RawMessage `json:"data"`
	Cursor     string          `json:"cursor"`
	NextCursor string          `json:"nextCursor"`
}

type rawEnvelope struct {
	Success    *bool           `json:"success"`
	Items      json.RawMessage `json:"items"`
	Cursor     string          `json:"cursor"`
	NextCursor string          `json:"nextCursor"`
	Result     *rawNested      `json:"result"`
}

type rawItem struct {
	ID      any    `json:"id"`
	URL     string `json:"url"`
	Src     string `json:"src"`
	Date    string `json:"date"`
	Created string `json:"created"`
}

// NormalizePage converts any of the historical listing response shapes into
// the canonical Page.
func NormalizePage(body []byte) (*Page, error) {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadListing, err)
	}

	rawItems := env.Items
	if rawItems == nil && env.Result != nil {
		rawItems = env.Result.Items
		if rawItems == nil {
			rawItems = env.Result.Data
		}
	}

	page := &Page{OK: env.Success == nil || *env.Success}
	page.Next = firstNonEmpty(env.Cursor, env.NextCursor)
	if page.Next == "" && env.Result != nil {
		page.Next = firstNonEmpty(env.Result.Cursor, env.Result.NextCursor)
	}

	if rawItems == nil {
		return page, nil
	}
	var items []rawItem
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, fmt.Errorf("%w: items: %v", ErrBadListing, err)
	}
	for _, ri := range items {
		item, ok := ri.normalize()
		if !ok {
			log.Warn().Interface("id", ri.ID).Msg("skipping listing item without id or url")
			continue
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (ri rawItem) normalize() (Item, bool) {
	item := Item{
		ID:        stringifyID(ri.ID),
		SourceURL: firstNonEmpty(ri.URL, ri.Src),
	}
	if item.ID == "" || item.SourceURL == "" {
		return Item{}, false
	}
	item.CreatedAt = parseTimestamp(firstNonEmpty(ri.Date, ri.Created))
	return item, true
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// parseTimestamp is best-effort; an unparseable date yields the zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
