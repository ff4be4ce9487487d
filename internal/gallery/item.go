package gallery

import "time"

// Item describes one remote image to download. Items are immutable once
// produced by the collector.
type Item struct {
	ID        string    `json:"id"`
	SourceURL string    `json:"source_url"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Page is one normalized slice of the remote listing.
type Page struct {
	Items []Item
	// Next is the continuation cursor, empty when the backend sent none.
	Next string
	// OK mirrors the backend's success flag; some backends report false
	// at the end of the listing instead of an empty page.
	OK bool
}
