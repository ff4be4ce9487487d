package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gallerygrab/internal/gallery"
)

func testItem(url string) gallery.Item {
	return gallery.Item{ID: "item-1", SourceURL: url}
}

func fastOpts() Options {
	return Options{Attempts: 3, BaseDelay: time.Millisecond}
}

func TestFetchSucceedsAfterTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	var events []Event
	opts := fastOpts()
	opts.Report = func(e Event) { events = append(events, e) }

	data, err := New(time.Second).Fetch(context.Background(), testItem(srv.URL), opts)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatalf("wrong body: %q", data)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected success on attempt 3, server saw %d requests", got)
	}
	if len(events) != 2 || events[0].Final || events[1].Final {
		t.Fatalf("expected 2 retry events, got %+v", events)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	var finals int
	opts := fastOpts()
	opts.Report = func(e Event) {
		if e.Final {
			finals++
		}
	}

	_, err := New(time.Second).Fetch(context.Background(), testItem(srv.URL), opts)
	if err == nil {
		t.Fatalf("expected final failure")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.Status != http.StatusBadGateway {
		t.Fatalf("expected transient error with status, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if finals != 1 {
		t.Fatalf("expected one final diagnostic, got %d", finals)
	}
}

func TestFetchPermanentlyMissingNeverRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"content_removed"}`))
	}))
	defer srv.Close()

	_, err := New(time.Second).Fetch(context.Background(), testItem(srv.URL), fastOpts())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("permanently missing file must not be retried, saw %d requests", got)
	}
}

func TestFetchPlain403IsRetryable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(time.Second).Fetch(context.Background(), testItem(srv.URL), fastOpts())
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("403 without the removal code must stay retryable: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchCancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(time.Second).Fetch(ctx, testItem("http://unreachable.invalid/x.jpg"), fastOpts())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{Attempts: 5, BaseDelay: time.Minute, Report: func(Event) { cancel() }}

	start := time.Now()
	_, err := New(time.Second).Fetch(ctx, testItem(srv.URL), opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("backoff did not abort early, took %v", elapsed)
	}
}

func TestFetchThrottleDelaysReturn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	opts := fastOpts()
	opts.Throttle = 30 * time.Millisecond

	start := time.Now()
	if _, err := New(time.Second).Fetch(context.Background(), testItem(srv.URL), opts); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < opts.Throttle {
		t.Fatalf("throttle not applied, returned after %v", elapsed)
	}
}
