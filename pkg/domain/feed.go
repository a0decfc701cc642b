package domain

import "time"

// Feed is the parsed, in-memory form of an RSS document. It is consumed by
// the ingestion pipeline and discarded, never persisted directly.
type Feed struct {
	Title       string
	Description string
	Link        string
	ImageURL    string
	Items       []Item
}

// Item is a single parsed feed entry. Description carries the resolved
// show notes (content:encoded > summary > description, first non-empty).
type Item struct {
	GUID            string
	Title           string
	Description     string
	Link            string
	EnclosureURL    string
	EnclosureType   string
	EnclosureLength int64
	PublishedAt     time.Time // zero when absent or unparseable
	Duration        int       // seconds
	ImageURL        string
	ChaptersURL     string
}
