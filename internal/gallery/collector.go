package gallery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

const defaultPageSize = 50

// Lister returns one page of the remote listing starting at cursor.
type Lister interface {
	ListPage(ctx context.Context, cursor string, limit int) (*Page, error)
}

// Collector walks the paginated listing into one ordered item collection.
type Collector struct {
	lister   Lister
	pageSize int
}

// NewCollector creates a collector reading pageSize items per request.
func NewCollector(lister Lister, pageSize int) *Collector {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Collector{lister: lister, pageSize: pageSize}
}

// CollectAll accumulates items page by page until the listing is exhausted.
//
// Termination is checked in order on every iteration: cancellation returns
// whatever was collected so far without error; an empty page ends the
// listing; a missing continuation cursor falls back to the last item's id,
// stopping if that repeats the current cursor; a continuation cursor equal
// to the current cursor also stops, so a misbehaving backend can never spin
// the collector forever.
func (c *Collector) CollectAll(ctx context.Context, cursor string) ([]Item, error) {
	var items []Item
	for {
		if ctx.Err() != nil {
			return items, nil
		}

		page, err := c.lister.ListPage(ctx, cursor, c.pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return items, nil
			}
			return nil, fmt.Errorf("collect page at cursor %q: %w", cursor, err)
		}

		if len(page.Items) == 0 {
			// Some backends report success=false instead of an empty
			// final page. Either way the listing is done.
			return items, nil
		}
		if !page.OK {
			// Known backend quirk: success=false alongside real items.
			// The data wins.
			log.Warn().
				Str("cursor", cursor).
				Int("items", len(page.Items)).
				Msg("listing page reported failure but carried items, proceeding")
		}

		items = append(items, page.Items...)

		next := page.Next
		if next == "" {
			next = page.Items[len(page.Items)-1].ID
		}
		if next == cursor {
			return items, nil
		}
		cursor = next
	}
}
