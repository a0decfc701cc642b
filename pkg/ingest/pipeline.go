package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"

	"github.com/podscope/podscope/pkg/domain"
)

// backCatalogAge marks items published this long before ingestion as
// back-catalog, they get the session grace flag for immediate decay.
const backCatalogAge = 7 * 24 * time.Hour

// EpisodeStore is the persistence surface the pipeline writes through
type EpisodeStore interface {
	InsertEpisodes(ctx context.Context, episodes []*domain.Episode) (int, error)
}

// Pipeline converts parsed feed items into persisted episodes. It filters
// before touching the store: the refresh timestamp filter rejects items that
// cannot be proven new without any persistence lookup, and the dedup key
// handles the rest inside one atomic batch insert.
type Pipeline struct {
	store     EpisodeStore
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(store EpisodeStore) *Pipeline {
	return &Pipeline{
		store:     store,
		sanitizer: bluemonday.UGCPolicy(),
		now:       time.Now,
	}
}

// Ingest applies the per-item rules in order and persists the surviving
// batch atomically. Returns the number of episodes actually inserted.
// Individual bad items are discarded, never an error.
func (p *Pipeline) Ingest(ctx context.Context, podcast *domain.Podcast, feed *domain.Feed, isInitialSubscription bool) (int, error) {
	now := p.now()
	candidates := make([]*domain.Episode, 0, len(feed.Items))

	for _, item := range feed.Items {
		// a refresh against prior history drops items that cannot be proven
		// new: unknown publish dates and anything older than the last
		// successful refresh. Initial subscription backfills everything.
		if !isInitialSubscription && !podcast.LastRefreshAt.IsZero() {
			if item.PublishedAt.IsZero() {
				lgr.Printf("[DEBUG] skip item with unknown publish date: %q", item.Title)
				continue
			}
			if item.PublishedAt.Before(podcast.LastRefreshAt) {
				continue
			}
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			lgr.Printf("[DEBUG] skip untitled item, guid %q", item.GUID)
			continue
		}

		guid := item.GUID
		if guid == "" {
			// stable across repeated parses, collides for duplicate titles,
			// accepted as the fallback of last resort
			guid = "title:" + title
		}

		state := domain.StateNew
		if isInitialSubscription {
			// a backfill of catalog history must not flood the "new" surface
			state = domain.StateAvailable
		}

		sessionGrace := !item.PublishedAt.IsZero() && now.Sub(item.PublishedAt) > backCatalogAge

		candidates = append(candidates, &domain.Episode{
			PodcastID:       podcast.ID,
			GUID:            guid,
			Title:           title,
			Description:     p.sanitizer.Sanitize(item.Description),
			Link:            item.Link,
			EnclosureURL:    item.EnclosureURL,
			EnclosureType:   item.EnclosureType,
			EnclosureLength: item.EnclosureLength,
			PublishedAt:     item.PublishedAt,
			FetchedAt:       now,
			Duration:        item.Duration,
			State:           state,
			SessionGrace:    sessionGrace,
			ChaptersURL:     item.ChaptersURL,
		})
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	inserted, err := p.store.InsertEpisodes(ctx, candidates)
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		lgr.Printf("[INFO] ingested %d new episodes for podcast %d (%d candidates)", inserted, podcast.ID, len(candidates))
	}
	return inserted, nil
}
