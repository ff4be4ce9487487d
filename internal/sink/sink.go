package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	fileutil "gallerygrab/internal/file"
)

// ErrSave marks a hand-off failure. Sink failures are fatal to a run and are
// never retried.
var ErrSave = errors.New("sink: save failed")

// Sink accepts a finalized archive blob under a suggested filename and
// returns an opaque handle for it.
type Sink interface {
	Save(ctx context.Context, filename string, blob []byte) (string, error)
}

// Dir persists archives into a directory on the local filesystem; the handle
// is the written file's path.
type Dir struct {
	root string
}

// NewDir creates a filesystem sink rooted at root.
func NewDir(root string) *Dir { return &Dir{root: root} }

// Save writes the blob atomically and returns its path.
func (d *Dir) Save(ctx context.Context, filename string, blob []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(d.root, filename)
	if err := fileutil.WriteAtomic(path, blob); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSave, err)
	}
	return path, nil
}
