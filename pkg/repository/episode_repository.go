package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/podscope/podscope/pkg/domain"
)

// episodeRow is the sqlx-mapped form of an episode record
type episodeRow struct {
	ID              int64  `db:"id"`
	PodcastID       int64  `db:"podcast_id"`
	GUID            string `db:"guid"`
	Title           string `db:"title"`
	Description     string `db:"description"`
	Link            string `db:"link"`
	EnclosureURL    string `db:"enclosure_url"`
	EnclosureType   string `db:"enclosure_type"`
	EnclosureLength int64  `db:"enclosure_length"`
	PublishedAt     int64  `db:"published_at"`
	FetchedAt       int64  `db:"fetched_at"`
	Duration        int    `db:"duration"`
	State           string `db:"state"`
	ViewedAt        int64  `db:"viewed_at"`
	SavedAt         int64  `db:"saved_at"`
	PlayedAt        int64  `db:"played_at"`
	PlaybackPos     int    `db:"playback_position"`
	DownloadPath    string `db:"download_path"`
	DownloadedAt    int64  `db:"downloaded_at"`
	SessionGrace    bool   `db:"session_grace"`
	ChaptersURL     string `db:"chapters_url"`
}

func (r *episodeRow) toDomain() *domain.Episode {
	return &domain.Episode{
		ID:              r.ID,
		PodcastID:       r.PodcastID,
		GUID:            r.GUID,
		Title:           r.Title,
		Description:     r.Description,
		Link:            r.Link,
		EnclosureURL:    r.EnclosureURL,
		EnclosureType:   r.EnclosureType,
		EnclosureLength: r.EnclosureLength,
		PublishedAt:     millisToTime(r.PublishedAt),
		FetchedAt:       millisToTime(r.FetchedAt),
		Duration:        r.Duration,
		State:           domain.EpisodeState(r.State),
		ViewedAt:        millisToTime(r.ViewedAt),
		SavedAt:         millisToTime(r.SavedAt),
		PlayedAt:        millisToTime(r.PlayedAt),
		PlaybackPos:     r.PlaybackPos,
		DownloadPath:    r.DownloadPath,
		DownloadedAt:    millisToTime(r.DownloadedAt),
		SessionGrace:    r.SessionGrace,
		ChaptersURL:     r.ChaptersURL,
	}
}

func toRow(e *domain.Episode) *episodeRow {
	return &episodeRow{
		ID:              e.ID,
		PodcastID:       e.PodcastID,
		GUID:            e.GUID,
		Title:           e.Title,
		Description:     e.Description,
		Link:            e.Link,
		EnclosureURL:    e.EnclosureURL,
		EnclosureType:   e.EnclosureType,
		EnclosureLength: e.EnclosureLength,
		PublishedAt:     timeToMillis(e.PublishedAt),
		FetchedAt:       timeToMillis(e.FetchedAt),
		Duration:        e.Duration,
		State:           string(e.State),
		ViewedAt:        timeToMillis(e.ViewedAt),
		SavedAt:         timeToMillis(e.SavedAt),
		PlayedAt:        timeToMillis(e.PlayedAt),
		PlaybackPos:     e.PlaybackPos,
		DownloadPath:    e.DownloadPath,
		DownloadedAt:    timeToMillis(e.DownloadedAt),
		SessionGrace:    e.SessionGrace,
		ChaptersURL:     e.ChaptersURL,
	}
}

// EpisodeRepository handles episode-related database operations
type EpisodeRepository struct {
	db *sqlx.DB
}

// NewEpisodeRepository creates a new episode repository
func NewEpisodeRepository(db *sqlx.DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

const insertEpisodeQuery = `
	INSERT INTO episodes (podcast_id, guid, title, description, link, enclosure_url, enclosure_type,
		enclosure_length, published_at, fetched_at, duration, state, viewed_at, saved_at,
		played_at, playback_position, download_path, downloaded_at, session_grace, chapters_url)
	VALUES (:podcast_id, :guid, :title, :description, :link, :enclosure_url, :enclosure_type,
		:enclosure_length, :published_at, :fetched_at, :duration, :state, :viewed_at, :saved_at,
		:played_at, :playback_position, :download_path, :downloaded_at, :session_grace, :chapters_url)
	ON CONFLICT(podcast_id, guid) DO NOTHING
`

// InsertEpisodes persists a batch of episodes in a single transaction and
// returns how many rows were actually inserted. Conflicts on the
// (podcast_id, guid) dedup key are discarded silently, that is the normal
// steady state of a refresh.
func (r *EpisodeRepository) InsertEpisodes(ctx context.Context, episodes []*domain.Episode) (int, error) {
	if len(episodes) == 0 {
		return 0, nil
	}

	inserted := 0
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	err := retrier.Do(ctx, func() error {
		inserted = 0
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("begin tx: %w", err)}
		}
		defer func() { _ = tx.Rollback() }()

		for _, episode := range episodes {
			result, err := tx.NamedExecContext(ctx, insertEpisodeQuery, toRow(episode))
			if err != nil {
				if isLockError(err) {
					return err // repeater will retry the whole batch
				}
				return &criticalError{err: fmt.Errorf("insert episode %q: %w", episode.GUID, err)}
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return &criticalError{err: fmt.Errorf("rows affected: %w", err)}
			}
			inserted += int(rows)
		}

		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("commit episodes: %w", err)}
		}
		return nil
	})

	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetEpisode retrieves an episode by ID
func (r *EpisodeRepository) GetEpisode(ctx context.Context, id int64) (*domain.Episode, error) {
	var row episodeRow
	err := r.db.GetContext(ctx, &row, "SELECT * FROM episodes WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return row.toDomain(), nil
}

// EpisodeExists checks the dedup key (podcast_id, guid)
func (r *EpisodeRepository) EpisodeExists(ctx context.Context, podcastID int64, guid string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM episodes WHERE podcast_id = ? AND guid = ?)",
		podcastID, guid)
	if err != nil {
		return false, fmt.Errorf("check episode exists: %w", err)
	}
	return exists, nil
}

// GetEpisodesByState retrieves episodes in the given lifecycle state, newest published first
func (r *EpisodeRepository) GetEpisodesByState(ctx context.Context, state domain.EpisodeState, limit, offset int) ([]*domain.Episode, error) {
	var rows []episodeRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM episodes WHERE state = ? ORDER BY published_at DESC, id DESC LIMIT ? OFFSET ?",
		string(state), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get episodes by state: %w", err)
	}
	return rowsToDomain(rows), nil
}

// GetEpisodesByPodcast retrieves all episodes of a podcast, newest published first
func (r *EpisodeRepository) GetEpisodesByPodcast(ctx context.Context, podcastID int64, limit, offset int) ([]*domain.Episode, error) {
	var rows []episodeRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM episodes WHERE podcast_id = ? ORDER BY published_at DESC, id DESC LIMIT ? OFFSET ?",
		podcastID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get episodes by podcast: %w", err)
	}
	return rowsToDomain(rows), nil
}

// CountEpisodesByPodcast returns the number of episodes for a podcast
func (r *EpisodeRepository) CountEpisodesByPodcast(ctx context.Context, podcastID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM episodes WHERE podcast_id = ?", podcastID)
	if err != nil {
		return 0, fmt.Errorf("count episodes: %w", err)
	}
	return count, nil
}

// UpdateEpisodeState sets the lifecycle state and stamps the matching
// per-state timestamp (viewed_at for available, saved_at for backlog,
// played_at for listened)
func (r *EpisodeRepository) UpdateEpisodeState(ctx context.Context, id int64, state domain.EpisodeState, now time.Time) error {
	stampColumn := ""
	switch state {
	case domain.StateAvailable:
		stampColumn = "viewed_at"
	case domain.StateBacklog:
		stampColumn = "saved_at"
	case domain.StateListened:
		stampColumn = "played_at"
	}

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := "UPDATE episodes SET state = ? WHERE id = ?"
		args := []interface{}{string(state), id}
		if stampColumn != "" {
			query = fmt.Sprintf("UPDATE episodes SET state = ?, %s = ? WHERE id = ?", stampColumn)
			args = []interface{}{string(state), timeToMillis(now), id}
		}

		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("update episode state: %w", err)}
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return &criticalError{err: fmt.Errorf("rows affected: %w", err)}
		}
		if rows == 0 {
			return &criticalError{err: fmt.Errorf("episode %d not found", id)}
		}
		return nil
	})
}

// DecayEpisodes runs the bulk decay update in one statement: every NEW
// episode whose grace flag is set or whose fetch time is at or past the
// cutoff becomes AVAILABLE with the flag cleared. Returns affected count.
func (r *EpisodeRepository) DecayEpisodes(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	err := retrier.Do(ctx, func() error {
		query := `
			UPDATE episodes
			SET state = ?, session_grace = 0
			WHERE state = ? AND (session_grace = 1 OR fetched_at <= ?)
		`
		result, err := r.db.ExecContext(ctx, query,
			string(domain.StateAvailable), string(domain.StateNew), timeToMillis(cutoff))
		if err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("decay episodes: %w", err)}
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return &criticalError{err: fmt.Errorf("rows affected: %w", err)}
		}
		return nil
	})

	if err != nil {
		return 0, err
	}
	return affected, nil
}

// SetEpisodeDownload records the download collaborator's result. Never
// called by ingestion or decay.
func (r *EpisodeRepository) SetEpisodeDownload(ctx context.Context, id int64, path string, downloadedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE episodes SET download_path = ?, downloaded_at = ? WHERE id = ?",
		path, timeToMillis(downloadedAt), id)
	if err != nil {
		return fmt.Errorf("set episode download: %w", err)
	}
	return nil
}

// SetEpisodePlayback records the playback collaborator's position
func (r *EpisodeRepository) SetEpisodePlayback(ctx context.Context, id int64, positionSec int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE episodes SET playback_position = ? WHERE id = ?", positionSec, id)
	if err != nil {
		return fmt.Errorf("set episode playback: %w", err)
	}
	return nil
}

// UpdateEpisodeDescription replaces show notes, used by the enrichment pass
// for episodes whose feed supplied nothing
func (r *EpisodeRepository) UpdateEpisodeDescription(ctx context.Context, id int64, description string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE episodes SET description = ? WHERE id = ? AND description = ''", description, id)
	if err != nil {
		return fmt.Errorf("update episode description: %w", err)
	}
	return nil
}

// GetEpisodesMissingNotes returns persisted episodes with an empty
// description and a usable link, candidates for show-notes enrichment
func (r *EpisodeRepository) GetEpisodesMissingNotes(ctx context.Context, podcastID int64, limit int) ([]*domain.Episode, error) {
	var rows []episodeRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM episodes WHERE podcast_id = ? AND description = '' AND link != '' LIMIT ?",
		podcastID, limit)
	if err != nil {
		return nil, fmt.Errorf("get episodes missing notes: %w", err)
	}
	return rowsToDomain(rows), nil
}

func rowsToDomain(rows []episodeRow) []*domain.Episode {
	episodes := make([]*domain.Episode, len(rows))
	for i, row := range rows {
		episodes[i] = row.toDomain()
	}
	return episodes
}
