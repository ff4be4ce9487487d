package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gallerygrab/internal/gallery"
)

// ErrUnavailable marks a file the backend reports as permanently gone: a 403
// whose JSON body carries the content_removed code. Retrying cannot help.
var ErrUnavailable = errors.New("fetch: file permanently unavailable upstream")

// goneCode is the body code the backend attaches to 403 responses for files
// it has removed, as opposed to ordinary access denials.
const goneCode = "content_removed"

const (
	defaultTimeout   = 30 * time.Second
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	maxErrorBody     = 4 << 10
)

// TransientError is a network or HTTP failure eligible for retry.
type TransientError struct {
	Status int // zero when the request never got a response
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("http %d", e.Status)
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Event is one diagnostic emitted by the fetcher, on every retry and on
// final failure.
type Event struct {
	ItemID   string
	Attempt  int
	Attempts int
	Err      error
	Final    bool
}

// Options controls one item's download.
type Options struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the backoff base; attempt n waits BaseDelay * 2^(n-1).
	BaseDelay time.Duration
	// Throttle is an extra pause after a successful download before the
	// bytes are handed back.
	Throttle time.Duration
	// Report receives diagnostic events. May be nil.
	Report func(Event)
}

func (o Options) withDefaults() Options {
	if o.Attempts < 1 {
		o.Attempts = defaultAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	return o
}

// Fetcher downloads single items with bounded retries and exponential
// backoff. It holds no run state and is safe for concurrent use.
type Fetcher struct {
	client *http.Client
}

// New creates a fetcher with its own HTTP client.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// NewWithClient creates a fetcher around an existing HTTP client.
func NewWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads one item's bytes or returns a definitive failure after
// exhausting retries. Cancellation is observed before each attempt and
// during every backoff or throttle wait.
func (f *Fetcher) Fetch(ctx context.Context, item gallery.Item, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := f.attempt(ctx, item.SourceURL)
		if err == nil {
			if opts.Throttle > 0 {
				if err := wait(ctx, opts.Throttle); err != nil {
					return nil, err
				}
			}
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrUnavailable) {
			opts.report(Event{ItemID: item.ID, Attempt: attempt, Attempts: opts.Attempts, Err: err, Final: true})
			return nil, err
		}
		if attempt >= opts.Attempts {
			final := fmt.Errorf("fetch %s after %d attempts: %w", item.ID, opts.Attempts, err)
			opts.report(Event{ItemID: item.ID, Attempt: attempt, Attempts: opts.Attempts, Err: final, Final: true})
			return nil, final
		}

		opts.report(Event{ItemID: item.ID, Attempt: attempt, Attempts: opts.Attempts, Err: err})
		if err := wait(ctx, opts.BaseDelay<<(attempt-1)); err != nil {
			return nil, err
		}
	}
}

func (o Options) report(e Event) {
	if o.Report != nil {
		o.Report(e)
	}
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		if code := bodyCode(resp.Body); code == goneCode {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrUnavailable)
		}
		return nil, &TransientError{Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransientError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// bodyCode extracts the structured error code from a 403 body, probing both
// the flat and the error-wrapped shape the backend has used.
func bodyCode(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload struct {
		Code  string `json:"code"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Code != "" {
		return payload.Code
	}
	return payload.Error.Code
}

// wait sleeps for d or returns early with the context's error.
func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
