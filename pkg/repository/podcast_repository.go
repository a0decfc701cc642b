package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/podscope/podscope/pkg/domain"
)

// podcastRow is the sqlx-mapped form of a podcast record
type podcastRow struct {
	ID            int64  `db:"id"`
	FeedURL       string `db:"feed_url"`
	Title         string `db:"title"`
	Description   string `db:"description"`
	ImageURL      string `db:"image_url"`
	CatalogID     string `db:"catalog_id"`
	LastRefreshAt int64  `db:"last_refresh_at"`
	CreatedAt     int64  `db:"created_at"`
}

func (r *podcastRow) toDomain() *domain.Podcast {
	return &domain.Podcast{
		ID:            r.ID,
		FeedURL:       r.FeedURL,
		Title:         r.Title,
		Description:   r.Description,
		ImageURL:      r.ImageURL,
		CatalogID:     r.CatalogID,
		LastRefreshAt: millisToTime(r.LastRefreshAt),
		CreatedAt:     millisToTime(r.CreatedAt),
	}
}

// PodcastRepository handles podcast-related database operations
type PodcastRepository struct {
	db *sqlx.DB
}

// NewPodcastRepository creates a new podcast repository
func NewPodcastRepository(db *sqlx.DB) *PodcastRepository {
	return &PodcastRepository{db: db}
}

// CreatePodcast inserts a new podcast, the feed URL must be unique
func (r *PodcastRepository) CreatePodcast(ctx context.Context, podcast *domain.Podcast) error {
	if podcast.CreatedAt.IsZero() {
		podcast.CreatedAt = time.Now()
	}

	row := &podcastRow{
		FeedURL:       podcast.FeedURL,
		Title:         podcast.Title,
		Description:   podcast.Description,
		ImageURL:      podcast.ImageURL,
		CatalogID:     podcast.CatalogID,
		LastRefreshAt: timeToMillis(podcast.LastRefreshAt),
		CreatedAt:     timeToMillis(podcast.CreatedAt),
	}

	query := `
		INSERT INTO podcasts (feed_url, title, description, image_url, catalog_id, last_refresh_at, created_at)
		VALUES (:feed_url, :title, :description, :image_url, :catalog_id, :last_refresh_at, :created_at)
	`
	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("create podcast: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	podcast.ID = id
	return nil
}

// GetPodcast retrieves a podcast by ID
func (r *PodcastRepository) GetPodcast(ctx context.Context, id int64) (*domain.Podcast, error) {
	var row podcastRow
	err := r.db.GetContext(ctx, &row, "SELECT * FROM podcasts WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get podcast: %w", err)
	}
	return row.toDomain(), nil
}

// GetPodcastByFeedURL retrieves a podcast by its unique feed URL
func (r *PodcastRepository) GetPodcastByFeedURL(ctx context.Context, feedURL string) (*domain.Podcast, error) {
	var row podcastRow
	err := r.db.GetContext(ctx, &row, "SELECT * FROM podcasts WHERE feed_url = ?", feedURL)
	if err != nil {
		return nil, fmt.Errorf("get podcast by feed url: %w", err)
	}
	return row.toDomain(), nil
}

// GetPodcasts retrieves all podcasts ordered by title
func (r *PodcastRepository) GetPodcasts(ctx context.Context) ([]*domain.Podcast, error) {
	var rows []podcastRow
	err := r.db.SelectContext(ctx, &rows, "SELECT * FROM podcasts ORDER BY title")
	if err != nil {
		return nil, fmt.Errorf("get podcasts: %w", err)
	}

	podcasts := make([]*domain.Podcast, len(rows))
	for i, row := range rows {
		podcasts[i] = row.toDomain()
	}
	return podcasts, nil
}

// UpdatePodcastMetadata overwrites title, description and artwork. The
// caller decides which feed values are worth keeping, empty values passed
// here do overwrite.
func (r *PodcastRepository) UpdatePodcastMetadata(ctx context.Context, id int64, title, description, imageURL string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `UPDATE podcasts SET title = ?, description = ?, image_url = ? WHERE id = ?`
		_, err := r.db.ExecContext(ctx, query, title, description, imageURL, id)
		if err != nil {
			if isLockError(err) {
				return err // repeater will retry this
			}
			return &criticalError{err: fmt.Errorf("update podcast metadata: %w", err)}
		}
		return nil
	})
}

// UpdateLastRefreshAt stamps the refresh rate-limit timestamp
func (r *PodcastRepository) UpdateLastRefreshAt(ctx context.Context, id int64, ts time.Time) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx, "UPDATE podcasts SET last_refresh_at = ? WHERE id = ?", timeToMillis(ts), id)
		if err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("update last refresh: %w", err)}
		}
		return nil
	})
}

// DeletePodcast removes a podcast, episodes cascade via foreign key
func (r *PodcastRepository) DeletePodcast(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM podcasts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete podcast: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("podcast %d not found", id)
	}
	return nil
}
