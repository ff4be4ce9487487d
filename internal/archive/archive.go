package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFinalized is returned when a builder is used after Finalize.
	ErrFinalized = errors.New("archive: already finalized")
	// ErrDuplicateEntry is returned for a repeated entry name. Entry names
	// derive from unique item ids, so hitting this is a caller bug.
	ErrDuplicateEntry = errors.New("archive: duplicate entry name")
)

// Builder accumulates downloaded files into one in-memory ZIP. Entries keep
// insertion order in the finalized blob. A builder belongs to a single run
// and is not safe for concurrent use.
type Builder struct {
	buf       bytes.Buffer
	zw        *zip.Writer
	names     map[string]struct{}
	count     int
	finalized bool
}

// NewBuilder creates an empty archive builder.
func NewBuilder() *Builder {
	b := &Builder{names: make(map[string]struct{})}
	b.zw = zip.NewWriter(&b.buf)
	return b
}

// AddEntry stores one file under name, stamping the entry with ts when known.
func (b *Builder) AddEntry(name string, data []byte, ts time.Time) error {
	if b.finalized {
		return ErrFinalized
	}
	if _, exists := b.names[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, name)
	}

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !ts.IsZero() {
		header.Modified = ts
	}
	w, err := b.zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %q: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %q: %w", name, err)
	}

	b.names[name] = struct{}{}
	b.count++
	return nil
}

// Len reports the number of entries added so far.
func (b *Builder) Len() int { return b.count }

// Finalize closes the archive and returns the serialized blob. It may be
// called exactly once; the builder rejects any use afterwards.
func (b *Builder) Finalize() ([]byte, error) {
	if b.finalized {
		return nil, ErrFinalized
	}
	b.finalized = true
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return b.buf.Bytes(), nil
}
