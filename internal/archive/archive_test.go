package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestBuilderProducesReadableZip(t *testing.T) {
	b := NewBuilder()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := b.AddEntry("100.jpg", []byte("first"), ts); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := b.AddEntry("101.jpg", []byte("second"), time.Time{}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}

	blob, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatalf("blob is not a zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	// Insertion order is preserved.
	if zr.File[0].Name != "100.jpg" || zr.File[1].Name != "101.jpg" {
		t.Fatalf("entry order: %s, %s", zr.File[0].Name, zr.File[1].Name)
	}
	if !zr.File[0].Modified.Equal(ts) {
		t.Fatalf("timestamp lost: %v", zr.File[0].Modified)
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "first" {
		t.Fatalf("entry content: %q", data)
	}
}

func TestBuilderRejectsDuplicateNames(t *testing.T) {
	b := NewBuilder()
	if err := b.AddEntry("a.jpg", []byte("x"), time.Time{}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := b.AddEntry("a.jpg", []byte("y"), time.Time{}); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestBuilderFinalizeIsOneShot(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := b.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("second Finalize must fail, got %v", err)
	}
	if err := b.AddEntry("late.jpg", []byte("x"), time.Time{}); !errors.Is(err, ErrFinalized) {
		t.Fatalf("AddEntry after Finalize must fail, got %v", err)
	}
}
