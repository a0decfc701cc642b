package domain

import "time"

// EpisodeState is the lifecycle state of an episode.
type EpisodeState string

const (
	StateNew       EpisodeState = "new"
	StateAvailable EpisodeState = "available"
	StateBacklog   EpisodeState = "backlog"
	StateListened  EpisodeState = "listened"
)

// Valid reports whether s is one of the known lifecycle states.
func (s EpisodeState) Valid() bool {
	switch s {
	case StateNew, StateAvailable, StateBacklog, StateListened:
		return true
	}
	return false
}

// Transitions is the lifecycle edge table. SetState remains permissive,
// transitions outside the table are applied but flagged in logs.
var Transitions = map[EpisodeState][]EpisodeState{
	StateNew:       {StateAvailable, StateBacklog},
	StateAvailable: {StateBacklog, StateListened},
	StateBacklog:   {StateListened},
	StateListened:  {},
}

// AllowedTransition reports whether from -> to is an edge in the lifecycle table.
func AllowedTransition(from, to EpisodeState) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Episode represents a single feed item persisted as a tracked episode.
// The pair (PodcastID, GUID) is the sole dedup key and is unique.
// Zero time values mean "never"/"unknown", never a substituted wall clock.
type Episode struct {
	ID              int64
	PodcastID       int64
	GUID            string
	Title           string
	Description     string
	Link            string
	EnclosureURL    string
	EnclosureType   string
	EnclosureLength int64
	PublishedAt     time.Time // zero when the feed had no parseable date
	FetchedAt       time.Time
	Duration        int // seconds
	State           EpisodeState
	ViewedAt        time.Time
	SavedAt         time.Time
	PlayedAt        time.Time
	PlaybackPos     int // seconds, written by the playback collaborator
	DownloadPath    string
	DownloadedAt    time.Time
	SessionGrace    bool
	ChaptersURL     string
}
