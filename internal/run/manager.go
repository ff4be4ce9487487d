package run

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"gallerygrab/internal/archive"
	"gallerygrab/internal/fetch"
	"gallerygrab/internal/gallery"
	"gallerygrab/internal/limiter"
	"gallerygrab/internal/session"
	"gallerygrab/internal/sink"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FetchFunc downloads one item's bytes. The Manager uses the real retrying
// fetcher; tests inject their own.
type FetchFunc func(ctx context.Context, item gallery.Item, opts fetch.Options) ([]byte, error)

// Options wires a Manager's collaborators.
type Options struct {
	Lister         gallery.Lister
	Sink           sink.Sink
	PageSize       int
	FetchTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Manager orchestrates download runs: it collects the item listing, fans
// fetches out through the limiter, feeds successful bytes into the archive
// builder and hands the finalized blob to the sink. At most one run is
// active at a time; finished runs stay queryable by id.
type Manager struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	active *Run

	opts      Options
	collector *gallery.Collector
	fetchFunc FetchFunc
	baseCtx   context.Context
	workersWG sync.WaitGroup
}

// NewManager creates a manager with the provided collaborators.
func NewManager(opts Options) *Manager {
	m := &Manager{
		runs:      make(map[string]*Run),
		opts:      opts,
		fetchFunc: fetch.New(opts.FetchTimeout).Fetch,
		baseCtx:   context.Background(),
	}
	if opts.Lister != nil {
		m.collector = gallery.NewCollector(opts.Lister, opts.PageSize)
	}
	return m
}

// SetBaseContext sets the context every run descends from. Cancelling it
// during shutdown aborts the active run.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// UseFetchFunc swaps the download function. Intended for test setup only.
func (m *Manager) UseFetchFunc(fn FetchFunc) {
	m.mu.Lock()
	m.fetchFunc = fn
	m.mu.Unlock()
}

// Start begins a new run from the request, rejecting it if one is already
// active or the configuration is invalid. The returned id identifies the run
// for Get, Cancel and Subscribe.
func (m *Manager) Start(req session.StartRequest) (string, error) {
	cfg, err := NewConfig(
		req.Concurrency,
		req.Sequential,
		time.Duration(req.ThrottleMs)*time.Millisecond,
		m.opts.RetryAttempts,
		m.opts.RetryBaseDelay,
	)
	if err != nil {
		return "", err
	}
	if len(req.Items) == 0 && m.collector == nil {
		return "", fmt.Errorf("%w: no items supplied and no listing source configured", ErrInvalidConfig)
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return "", ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &Run{
		ID:        uuid.NewString(),
		State:     StateCollecting,
		StartedAt: time.Now(),
		cancel:    cancel,
		bus:       session.NewBus(),
	}
	if len(req.Items) > 0 {
		// Pre-fetched listing: metadata collection is skipped entirely.
		r.State = StateDownloading
	}
	m.runs[r.ID] = r
	m.active = r
	m.mu.Unlock()

	log.Info().Str("run_id", r.ID).Int("requested_concurrency", req.Concurrency).Bool("sequential", req.Sequential).Msg("run started")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer cancel()
		m.process(ctx, r, cfg, req.Items)
	}()
	return r.ID, nil
}

// Get returns a snapshot of the run with the given id.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// Cancel signals cancellation for the run. Idempotent; cancelling a finished
// run is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	r.cancel()
	return nil
}

// Subscribe attaches a live listener to the run's session messages.
func (m *Manager) Subscribe(id string) (<-chan session.Message, func(), bool) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	ch, cancel := r.bus.Subscribe()
	return ch, cancel, true
}

// WaitAll blocks until the in-flight run worker finishes or ctx expires.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

type itemResult struct {
	item gallery.Item
	data []byte
	err  error
}

func (m *Manager) process(ctx context.Context, r *Run, cfg Config, prefetched []gallery.Item) {
	items := prefetched
	if len(items) == 0 {
		m.emit(r, session.Status("collecting gallery listing"))
		collected, err := m.collector.CollectAll(ctx, "")
		if ctx.Err() != nil {
			m.finish(r, StateCancelled, session.Cancelled())
			return
		}
		if err != nil {
			m.fail(r, err)
			return
		}
		items = collected
	}
	if ctx.Err() != nil {
		m.finish(r, StateCancelled, session.Cancelled())
		return
	}

	m.mu.Lock()
	r.Total = len(items)
	m.mu.Unlock()

	if len(items) == 0 {
		m.emit(r, session.Status("no files found"))
		m.finish(r, StateCompleted, session.Done(0, 0, 0, 0, ""))
		return
	}

	eff, downgraded := cfg.effective(len(items))
	if downgraded {
		m.emit(r, session.Status(fmt.Sprintf(
			"large gallery (%d files): downloading sequentially with %dms delay to avoid overloading the server",
			len(items), eff.ThrottleDelay/time.Millisecond)))
		log.Info().Str("run_id", r.ID).Int("total", len(items)).Msg("large gallery, downgraded to sequential")
	}
	m.emit(r, session.Start(len(items), eff.Concurrency))
	m.setState(r, StateDownloading)

	builder, ok := m.download(ctx, r, eff, items)
	if !ok {
		return
	}
	m.finalize(ctx, r, builder)
}

// download fans the items out through the limiter and folds completions into
// the run's counters in completion order. It returns the populated archive
// builder, or ok=false when the run already reached a terminal state.
func (m *Manager) download(ctx context.Context, r *Run, eff Config, items []gallery.Item) (*archive.Builder, bool) {
	lim, err := limiter.New[*itemResult](ctx, eff.Concurrency)
	if err != nil {
		m.fail(r, err)
		return nil, false
	}

	fetchOpts := fetch.Options{
		Attempts:  eff.RetryAttempts,
		BaseDelay: eff.RetryBaseDelay,
		Throttle:  eff.ThrottleDelay,
		Report:    m.retryReporter(r),
	}

	m.mu.RLock()
	fetchFn := m.fetchFunc
	m.mu.RUnlock()

	// Buffered to the item count so settling units never block, even after
	// this loop stops reading.
	results := make(chan *itemResult, len(items))
	for _, it := range items {
		it := it
		lim.Submit(func(ctx context.Context) (*itemResult, error) {
			data, err := fetchFn(ctx, it, fetchOpts)
			res := &itemResult{item: it, data: data, err: err}
			results <- res
			return res, err
		})
	}

	builder := archive.NewBuilder()
	for completed := 0; completed < len(items); {
		select {
		case <-ctx.Done():
			m.finish(r, StateCancelled, session.Cancelled())
			return nil, false
		case res := <-results:
			if res.err != nil && errors.Is(res.err, context.Canceled) {
				m.finish(r, StateCancelled, session.Cancelled())
				return nil, false
			}
			completed++
			m.record(r, builder, res, completed, len(items))
		}
	}
	return builder, true
}

// record folds one settled item into counters and emits its progress event.
// The download loop calls it from a single goroutine, so counter updates are
// never concurrent.
func (m *Manager) record(r *Run, builder *archive.Builder, res *itemResult, completed, total int) {
	failed := res.err != nil
	if !failed {
		if err := builder.AddEntry(entryName(res.item), res.data, res.item.CreatedAt); err != nil {
			log.Error().Str("run_id", r.ID).Str("item_id", res.item.ID).Err(err).Msg("archive entry rejected")
			failed = true
		}
	}

	m.mu.Lock()
	r.Processed++
	if failed {
		r.Failed++
	} else {
		r.Succeeded++
	}
	succeeded, failures := r.Succeeded, r.Failed
	m.mu.Unlock()

	if res.err != nil {
		if errors.Is(res.err, fetch.ErrUnavailable) {
			m.emit(r, session.Log(session.LevelWarn, fmt.Sprintf("file %s is unavailable on the server, skipping", res.item.ID)))
		} else {
			m.emit(r, session.Log(session.LevelWarn, fmt.Sprintf("could not download file %s: %v", res.item.ID, res.err)))
		}
	}
	m.emit(r, session.Progress(completed, total, res.item.ID, succeeded, failures))
}

func (m *Manager) finalize(ctx context.Context, r *Run, builder *archive.Builder) {
	m.setState(r, StateFinalizing)
	m.emit(r, session.Status("building archive"))

	blob, err := builder.Finalize()
	if err != nil {
		m.fail(r, err)
		return
	}
	handle, err := m.opts.Sink.Save(ctx, "archive-"+r.ID+".zip", blob)
	if err != nil {
		if ctx.Err() != nil {
			m.finish(r, StateCancelled, session.Cancelled())
			return
		}
		m.fail(r, err)
		return
	}

	m.mu.Lock()
	r.SinkHandle = handle
	total, succeeded, failures, processed := r.Total, r.Succeeded, r.Failed, r.Processed
	m.mu.Unlock()

	log.Info().Str("run_id", r.ID).Int("succeeded", succeeded).Int("failed", failures).Str("archive", handle).Msg("run completed")
	m.finish(r, StateCompleted, session.Done(total, succeeded, failures, processed, handle))
}

// retryReporter converts fetcher diagnostics into session log messages.
// Final failures are reported once by record, so only retries surface here.
func (m *Manager) retryReporter(r *Run) func(fetch.Event) {
	return func(e fetch.Event) {
		if e.Final {
			return
		}
		m.emit(r, session.Log(session.LevelInfo, fmt.Sprintf(
			"retrying file %s (attempt %d/%d): %v", e.ItemID, e.Attempt, e.Attempts, e.Err)))
	}
}

// emit records and publishes one session message unless the run has already
// reached a terminal state; nothing follows a terminal event.
func (m *Manager) emit(r *Run, msg session.Message) {
	m.mu.Lock()
	if r.State.Terminal() {
		m.mu.Unlock()
		return
	}
	r.events = append(r.events, msg)
	m.mu.Unlock()
	r.bus.Publish(msg)
}

func (m *Manager) setState(r *Run, state State) {
	m.mu.Lock()
	r.State = state
	m.mu.Unlock()
}

// finish moves the run into a terminal state, emits the terminal message as
// the run's last event and releases the single-active-run slot.
func (m *Manager) finish(r *Run, state State, msg session.Message) {
	m.mu.Lock()
	if r.State.Terminal() {
		m.mu.Unlock()
		return
	}
	r.State = state
	r.events = append(r.events, msg)
	if m.active == r {
		m.active = nil
	}
	m.mu.Unlock()

	r.bus.Publish(msg)
	r.bus.Close()
	log.Info().Str("run_id", r.ID).Str("state", string(state)).Msg("run finished")
}

func (m *Manager) fail(r *Run, err error) {
	log.Error().Str("run_id", r.ID).Err(err).Msg("run failed")
	m.finish(r, StateFailed, session.Error(err.Error()))
}

// entryName derives the archive entry name from the item's id, keeping the
// source file extension when the URL carries one.
func entryName(item gallery.Item) string {
	ext := ".jpg"
	if u, err := url.Parse(item.SourceURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 8 {
			ext = e
		}
	}
	return item.ID + ext
}
