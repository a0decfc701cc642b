package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/podscope/podscope/pkg/domain"
)

// defaultCooldown is the per-podcast refresh rate limit window
const defaultCooldown = time.Hour

// PodcastStore is the persistence surface for podcast records
type PodcastStore interface {
	GetPodcast(ctx context.Context, id int64) (*domain.Podcast, error)
	GetPodcasts(ctx context.Context) ([]*domain.Podcast, error)
	UpdatePodcastMetadata(ctx context.Context, id int64, title, description, imageURL string) error
	UpdateLastRefreshAt(ctx context.Context, id int64, ts time.Time) error
}

// EpisodeStore is the slice of episode persistence the enrichment pass needs
type EpisodeStore interface {
	GetEpisodesMissingNotes(ctx context.Context, podcastID int64, limit int) ([]*domain.Episode, error)
	UpdateEpisodeDescription(ctx context.Context, id int64, description string) error
}

// Fetcher retrieves raw feed bytes
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser converts raw bytes into the canonical feed structure
type Parser interface {
	Parse(r io.Reader) (*domain.Feed, error)
}

// Ingestor persists new episodes from a parsed feed
type Ingestor interface {
	Ingest(ctx context.Context, podcast *domain.Podcast, feed *domain.Feed, isInitialSubscription bool) (int, error)
}

// NotesExtractor pulls show-notes text from an episode web page
type NotesExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Config holds coordinator configuration
type Config struct {
	Cooldown   time.Duration // per-podcast rate limit, default 1h
	MaxWorkers int           // concurrent podcasts in RefreshAll, default 5
}

// Coordinator orchestrates per-podcast refreshes: rate limiting, fetch,
// parse, metadata update, ingestion and the final refresh stamp. Different
// podcasts refresh in parallel, a single podcast has at most one in-flight
// refresh.
type Coordinator struct {
	podcasts   PodcastStore
	episodes   EpisodeStore
	fetcher    Fetcher
	parser     Parser
	ingestor   Ingestor
	extractor  NotesExtractor // optional show-notes enrichment
	cooldown   time.Duration
	maxWorkers int
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[int64]*sync.Mutex
}

// NewCoordinator creates a refresh coordinator
func NewCoordinator(podcasts PodcastStore, episodes EpisodeStore, fetcher Fetcher, parser Parser, ingestor Ingestor, cfg Config) *Coordinator {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 5
	}
	return &Coordinator{
		podcasts:   podcasts,
		episodes:   episodes,
		fetcher:    fetcher,
		parser:     parser,
		ingestor:   ingestor,
		cooldown:   cfg.Cooldown,
		maxWorkers: cfg.MaxWorkers,
		now:        time.Now,
		inFlight:   make(map[int64]*sync.Mutex),
	}
}

// SetNotesExtractor enables the optional show-notes enrichment pass
func (c *Coordinator) SetNotesExtractor(e NotesExtractor) { c.extractor = e }

// podcastLock returns the mutex serializing refreshes of one podcast
func (c *Coordinator) podcastLock(id int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; !ok {
		c.inFlight[id] = &sync.Mutex{}
	}
	return c.inFlight[id]
}

// RefreshPodcast refreshes a single podcast if it is eligible. A podcast in
// the cooling window is a silent no-op, not an error. Returns the number of
// newly ingested episodes.
func (c *Coordinator) RefreshPodcast(ctx context.Context, podcastID int64) (int, error) {
	lock := c.podcastLock(podcastID)
	lock.Lock()
	defer lock.Unlock()

	podcast, err := c.podcasts.GetPodcast(ctx, podcastID)
	if err != nil {
		return 0, fmt.Errorf("load podcast %d: %w", podcastID, err)
	}

	now := c.now()
	state := podcast.RefreshStateAt(now, c.cooldown)
	if state == domain.RefreshCooling {
		lgr.Printf("[DEBUG] podcast %d cooling, refreshed %v ago", podcastID, now.Sub(podcast.LastRefreshAt))
		return 0, nil
	}

	return c.refresh(ctx, podcast, state == domain.RefreshNeverRefreshed)
}

// refresh runs the fetch-parse-ingest sequence. Fetch and parse failures
// abort before the refresh stamp so the next eligible window retries; once
// ingestion ran, the stamp is written unconditionally so a feed with
// isolated bad items does not retry every call.
func (c *Coordinator) refresh(ctx context.Context, podcast *domain.Podcast, isInitial bool) (int, error) {
	lgr.Printf("[DEBUG] refreshing podcast %d: %s", podcast.ID, podcast.FeedURL)

	body, err := c.fetcher.Fetch(ctx, podcast.FeedURL)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", podcast.FeedURL, err)
	}

	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", podcast.FeedURL, err)
	}

	c.updateMetadata(ctx, podcast, feed)

	inserted, ingestErr := c.ingestor.Ingest(ctx, podcast, feed, isInitial)

	if err := c.podcasts.UpdateLastRefreshAt(ctx, podcast.ID, c.now()); err != nil {
		lgr.Printf("[ERROR] failed to stamp refresh for podcast %d: %v", podcast.ID, err)
	}

	if ingestErr != nil {
		return 0, fmt.Errorf("ingest %s: %w", podcast.FeedURL, ingestErr)
	}

	if inserted > 0 && c.extractor != nil {
		c.enrichNotes(ctx, podcast.ID)
	}

	return inserted, nil
}

// updateMetadata overwrites podcast metadata with feed values, keeping the
// existing value wherever the feed supplies nothing so a feed regression
// does not blank stored metadata
func (c *Coordinator) updateMetadata(ctx context.Context, podcast *domain.Podcast, feed *domain.Feed) {
	title, description, imageURL := podcast.Title, podcast.Description, podcast.ImageURL
	if feed.Title != "" {
		title = feed.Title
	}
	if feed.Description != "" {
		description = feed.Description
	}
	if feed.ImageURL != "" {
		imageURL = feed.ImageURL
	}

	if title == podcast.Title && description == podcast.Description && imageURL == podcast.ImageURL {
		return
	}

	if err := c.podcasts.UpdatePodcastMetadata(ctx, podcast.ID, title, description, imageURL); err != nil {
		lgr.Printf("[WARN] failed to update metadata for podcast %d: %v", podcast.ID, err)
	}
}

// enrichNotes fills empty show notes from episode web pages, best effort
func (c *Coordinator) enrichNotes(ctx context.Context, podcastID int64) {
	episodes, err := c.episodes.GetEpisodesMissingNotes(ctx, podcastID, 10)
	if err != nil {
		lgr.Printf("[WARN] failed to find episodes missing notes: %v", err)
		return
	}

	for _, episode := range episodes {
		text, err := c.extractor.Extract(ctx, episode.Link)
		if err != nil {
			lgr.Printf("[DEBUG] notes extraction failed for episode %d: %v", episode.ID, err)
			continue
		}
		if err := c.episodes.UpdateEpisodeDescription(ctx, episode.ID, text); err != nil {
			lgr.Printf("[WARN] failed to save extracted notes for episode %d: %v", episode.ID, err)
		}
	}
}

// RefreshAll refreshes every subscribed podcast, isolating failures: one
// broken feed never aborts the others. Collected failures come back as a
// single joined error.
func (c *Coordinator) RefreshAll(ctx context.Context) (int, error) {
	podcasts, err := c.podcasts.GetPodcasts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list podcasts: %w", err)
	}

	var mu sync.Mutex
	total := 0
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)

	for _, p := range podcasts {
		g.Go(func() error {
			inserted, err := c.RefreshPodcast(gctx, p.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lgr.Printf("[WARN] refresh failed for podcast %d (%s): %v", p.ID, p.FeedURL, err)
				failures = append(failures, fmt.Errorf("podcast %d: %w", p.ID, err))
				return nil // collected, not propagated
			}
			total += inserted
			return nil
		})
	}

	_ = g.Wait() // workers never return errors, failures are collected above

	lgr.Printf("[INFO] refreshed %d podcasts, %d new episodes, %d failures", len(podcasts), total, len(failures))
	return total, errors.Join(failures...)
}
