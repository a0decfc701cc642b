package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podscope/podscope/pkg/domain"
)

func createTestPodcast(t *testing.T, repos *Repositories, url string) *domain.Podcast {
	podcast := &domain.Podcast{FeedURL: url, Title: "Test Show"}
	require.NoError(t, repos.Podcast.CreatePodcast(context.Background(), podcast))
	return podcast
}

func TestEpisodeRepository_InsertAndGet(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	published := time.Now().Add(-48 * time.Hour).Truncate(time.Millisecond)

	inserted, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{{
		PodcastID:       podcast.ID,
		GUID:            "ep-1",
		Title:           "Episode One",
		Description:     "notes",
		Link:            "https://example.com/ep1",
		EnclosureURL:    "https://example.com/ep1.mp3",
		EnclosureType:   "audio/mpeg",
		EnclosureLength: 12345,
		PublishedAt:     published,
		FetchedAt:       time.Now(),
		Duration:        3661,
		State:           domain.StateNew,
		ChaptersURL:     "https://example.com/ep1.chapters.json",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	episodes, err := repos.Episode.GetEpisodesByPodcast(ctx, podcast.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, episodes, 1)

	got := episodes[0]
	assert.Equal(t, "ep-1", got.GUID)
	assert.Equal(t, 3661, got.Duration)
	assert.True(t, got.PublishedAt.Equal(published))
	assert.False(t, got.SessionGrace)
	assert.Equal(t, domain.StateNew, got.State)
}

func TestEpisodeRepository_DedupKey(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	batch := []*domain.Episode{
		{PodcastID: podcast.ID, GUID: "ep-1", Title: "one", State: domain.StateNew},
		{PodcastID: podcast.ID, GUID: "ep-2", Title: "two", State: domain.StateNew},
	}

	inserted, err := repos.Episode.InsertEpisodes(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// same batch again inserts nothing, the conflict is silent
	inserted, err = repos.Episode.InsertEpisodes(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	count, err := repos.Episode.CountEpisodesByPodcast(ctx, podcast.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	exists, err := repos.Episode.EpisodeExists(ctx, podcast.ID, "ep-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEpisodeRepository_SameGUIDDifferentPodcasts(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := createTestPodcast(t, repos, "https://example.com/a.xml")
	second := createTestPodcast(t, repos, "https://example.com/b.xml")

	inserted, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{
		{PodcastID: first.ID, GUID: "shared", Title: "a", State: domain.StateNew},
		{PodcastID: second.ID, GUID: "shared", Title: "b", State: domain.StateNew},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted, "dedup key is scoped per podcast")
}

func TestEpisodeRepository_UpdateState(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	_, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{
		{PodcastID: podcast.ID, GUID: "ep-1", Title: "one", State: domain.StateNew},
	})
	require.NoError(t, err)

	episodes, err := repos.Episode.GetEpisodesByPodcast(ctx, podcast.ID, 1, 0)
	require.NoError(t, err)
	id := episodes[0].ID

	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, repos.Episode.UpdateEpisodeState(ctx, id, domain.StateBacklog, now))
	got, err := repos.Episode.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBacklog, got.State)
	assert.True(t, got.SavedAt.Equal(now), "backlog stamps saved_at")
	assert.True(t, got.PlayedAt.IsZero())

	require.NoError(t, repos.Episode.UpdateEpisodeState(ctx, id, domain.StateListened, now))
	got, err = repos.Episode.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.PlayedAt.Equal(now), "listened stamps played_at")

	err = repos.Episode.UpdateEpisodeState(ctx, 99999, domain.StateListened, now)
	assert.Error(t, err, "unknown episode id")
}

func TestEpisodeRepository_Decay(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	now := time.Now()

	_, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{
		{PodcastID: podcast.ID, GUID: "old", Title: "old", State: domain.StateNew, FetchedAt: now.Add(-8 * 24 * time.Hour)},
		{PodcastID: podcast.ID, GUID: "fresh", Title: "fresh", State: domain.StateNew, FetchedAt: now.Add(-5 * 24 * time.Hour)},
		{PodcastID: podcast.ID, GUID: "graced", Title: "graced", State: domain.StateNew, FetchedAt: now, SessionGrace: true},
		{PodcastID: podcast.ID, GUID: "saved", Title: "saved", State: domain.StateBacklog, FetchedAt: now.Add(-30 * 24 * time.Hour)},
	})
	require.NoError(t, err)

	affected, err := repos.Episode.DecayEpisodes(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected, "old by age, graced by flag")

	byGUID := map[string]*domain.Episode{}
	episodes, err := repos.Episode.GetEpisodesByPodcast(ctx, podcast.ID, 10, 0)
	require.NoError(t, err)
	for _, e := range episodes {
		byGUID[e.GUID] = e
	}

	assert.Equal(t, domain.StateAvailable, byGUID["old"].State)
	assert.Equal(t, domain.StateNew, byGUID["fresh"].State, "inside the 7 day window")
	assert.Equal(t, domain.StateAvailable, byGUID["graced"].State)
	assert.False(t, byGUID["graced"].SessionGrace, "grace flag cleared")
	assert.Equal(t, domain.StateBacklog, byGUID["saved"].State, "decay never touches backlog")
}

func TestEpisodeRepository_GetByState(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	now := time.Now()

	_, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{
		{PodcastID: podcast.ID, GUID: "a", Title: "a", State: domain.StateNew, PublishedAt: now.Add(-time.Hour)},
		{PodcastID: podcast.ID, GUID: "b", Title: "b", State: domain.StateNew, PublishedAt: now},
		{PodcastID: podcast.ID, GUID: "c", Title: "c", State: domain.StateListened, PublishedAt: now},
	})
	require.NoError(t, err)

	newEpisodes, err := repos.Episode.GetEpisodesByState(ctx, domain.StateNew, 10, 0)
	require.NoError(t, err)
	require.Len(t, newEpisodes, 2)
	assert.Equal(t, "b", newEpisodes[0].GUID, "newest published first")
}

func TestEpisodeRepository_CollaboratorWrites(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	_, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{
		{PodcastID: podcast.ID, GUID: "ep-1", Title: "one", State: domain.StateNew},
	})
	require.NoError(t, err)

	episodes, err := repos.Episode.GetEpisodesByPodcast(ctx, podcast.ID, 1, 0)
	require.NoError(t, err)
	id := episodes[0].ID

	downloadedAt := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repos.Episode.SetEpisodeDownload(ctx, id, "/data/ep1.mp3", downloadedAt))
	require.NoError(t, repos.Episode.SetEpisodePlayback(ctx, id, 120))

	got, err := repos.Episode.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/data/ep1.mp3", got.DownloadPath)
	assert.True(t, got.DownloadedAt.Equal(downloadedAt))
	assert.Equal(t, 120, got.PlaybackPos)
}

func TestEpisodeRepository_MissingNotes(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	podcast := createTestPodcast(t, repos, "https://example.com/feed.xml")
	_, err := repos.Episode.InsertEpisodes(ctx, []*domain.Episode{
		{PodcastID: podcast.ID, GUID: "bare", Title: "bare", Link: "https://example.com/bare", State: domain.StateNew},
		{PodcastID: podcast.ID, GUID: "full", Title: "full", Link: "https://example.com/full", Description: "has notes", State: domain.StateNew},
		{PodcastID: podcast.ID, GUID: "nolink", Title: "nolink", State: domain.StateNew},
	})
	require.NoError(t, err)

	candidates, err := repos.Episode.GetEpisodesMissingNotes(ctx, podcast.ID, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "bare", candidates[0].GUID)

	require.NoError(t, repos.Episode.UpdateEpisodeDescription(ctx, candidates[0].ID, "extracted notes"))
	got, err := repos.Episode.GetEpisode(ctx, candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "extracted notes", got.Description)

	// only fills empty descriptions, never overwrites
	require.NoError(t, repos.Episode.UpdateEpisodeDescription(ctx, candidates[0].ID, "other"))
	got, err = repos.Episode.GetEpisode(ctx, candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "extracted notes", got.Description)
}
