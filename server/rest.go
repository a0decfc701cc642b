package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/podscope/podscope/pkg/domain"
)

// podcastResponse is the JSON shape of a subscribed podcast
type podcastResponse struct {
	ID            int64     `json:"id"`
	FeedURL       string    `json:"feed_url"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	CatalogID     string    `json:"catalog_id,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitzero"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

// episodeResponse is the JSON shape of a tracked episode
type episodeResponse struct {
	ID            int64     `json:"id"`
	PodcastID     int64     `json:"podcast_id"`
	GUID          string    `json:"guid"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Link          string    `json:"link,omitempty"`
	EnclosureURL  string    `json:"enclosure_url,omitempty"`
	EnclosureType string    `json:"enclosure_type,omitempty"`
	PublishedAt   time.Time `json:"published_at,omitzero"`
	FetchedAt     time.Time `json:"fetched_at,omitzero"`
	Duration      int       `json:"duration,omitempty"`
	State         string    `json:"state"`
	SessionGrace  bool      `json:"session_grace,omitempty"`
	ChaptersURL   string    `json:"chapters_url,omitempty"`
}

func toPodcastResponse(p *domain.Podcast) podcastResponse {
	return podcastResponse{
		ID:            p.ID,
		FeedURL:       p.FeedURL,
		Title:         p.Title,
		Description:   p.Description,
		ImageURL:      p.ImageURL,
		CatalogID:     p.CatalogID,
		LastRefreshAt: p.LastRefreshAt,
		CreatedAt:     p.CreatedAt,
	}
}

func toEpisodeResponse(e *domain.Episode) episodeResponse {
	return episodeResponse{
		ID:            e.ID,
		PodcastID:     e.PodcastID,
		GUID:          e.GUID,
		Title:         e.Title,
		Description:   e.Description,
		Link:          e.Link,
		EnclosureURL:  e.EnclosureURL,
		EnclosureType: e.EnclosureType,
		PublishedAt:   e.PublishedAt,
		FetchedAt:     e.FetchedAt,
		Duration:      e.Duration,
		State:         string(e.State),
		SessionGrace:  e.SessionGrace,
		ChaptersURL:   e.ChaptersURL,
	}
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// createPodcastHandler subscribes to a new feed and backfills its episodes
func (s *Server) createPodcastHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		FeedURL string `json:"feed_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	req.FeedURL = strings.TrimSpace(req.FeedURL)
	if req.FeedURL == "" {
		renderError(w, r, fmt.Errorf("feed_url is required"), http.StatusBadRequest)
		return
	}

	podcast := &domain.Podcast{FeedURL: req.FeedURL}
	if err := s.db.CreatePodcast(ctx, podcast); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			renderError(w, r, fmt.Errorf("already subscribed to %s", req.FeedURL), http.StatusConflict)
			return
		}
		log.Printf("[ERROR] failed to create podcast: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	// initial refresh backfills the whole published history
	inserted, err := s.refresher.RefreshPodcast(ctx, podcast.ID)
	if err != nil {
		log.Printf("[WARN] subscribed to %s but initial refresh failed: %v", req.FeedURL, err)
	}

	updated, err := s.db.GetPodcast(ctx, podcast.ID)
	if err != nil {
		log.Printf("[ERROR] failed to reload podcast: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := struct {
		Podcast  podcastResponse `json:"podcast"`
		Episodes int             `json:"episodes"`
	}{toPodcastResponse(updated), inserted}
	renderJSON(w, r, http.StatusCreated, resp)
}

// listPodcastsHandler returns all subscribed podcasts
func (s *Server) listPodcastsHandler(w http.ResponseWriter, r *http.Request) {
	podcasts, err := s.db.GetPodcasts(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to list podcasts: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]podcastResponse, 0, len(podcasts))
	for _, p := range podcasts {
		resp = append(resp, toPodcastResponse(p))
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// deletePodcastHandler removes a subscription and its episodes
func (s *Server) deletePodcastHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid podcast ID"), http.StatusBadRequest)
		return
	}

	if err := s.db.DeletePodcast(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			renderError(w, r, err, http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to delete podcast %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshPodcastHandler triggers an on-demand refresh of one podcast
func (s *Server) refreshPodcastHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid podcast ID"), http.StatusBadRequest)
		return
	}

	inserted, err := s.refresher.RefreshPodcast(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no rows") {
			renderError(w, r, err, http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to refresh podcast %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]int{"episodes": inserted})
}

// refreshAllHandler triggers an on-demand refresh over every subscription
func (s *Server) refreshAllHandler(w http.ResponseWriter, r *http.Request) {
	inserted, err := s.refresher.RefreshAll(r.Context())
	if err != nil {
		// partial failures still report what got through
		log.Printf("[WARN] refresh-all completed with failures: %v", err)
	}
	renderJSON(w, r, http.StatusOK, map[string]int{"episodes": inserted})
}

// decayHandler runs the lifecycle decay sweep on demand
func (s *Server) decayHandler(w http.ResponseWriter, r *http.Request) {
	decayed, err := s.lifecycle.Sweep(r.Context())
	if err != nil {
		log.Printf("[ERROR] decay sweep failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]int64{"decayed": decayed})
}

// episodesByStateHandler lists episodes in a given lifecycle state
func (s *Server) episodesByStateHandler(w http.ResponseWriter, r *http.Request) {
	state := domain.EpisodeState(r.URL.Query().Get("state"))
	if !state.Valid() {
		renderError(w, r, fmt.Errorf("invalid state %q", state), http.StatusBadRequest)
		return
	}
	limit, offset := pageParams(r)

	episodes, err := s.db.GetEpisodesByState(r.Context(), state, limit, offset)
	if err != nil {
		log.Printf("[ERROR] failed to list episodes: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]episodeResponse, 0, len(episodes))
	for _, e := range episodes {
		resp = append(resp, toEpisodeResponse(e))
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// podcastEpisodesHandler lists episodes of one podcast
func (s *Server) podcastEpisodesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid podcast ID"), http.StatusBadRequest)
		return
	}
	limit, offset := pageParams(r)

	episodes, err := s.db.GetEpisodesByPodcast(r.Context(), id, limit, offset)
	if err != nil {
		log.Printf("[ERROR] failed to list episodes for podcast %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]episodeResponse, 0, len(episodes))
	for _, e := range episodes {
		resp = append(resp, toEpisodeResponse(e))
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// setEpisodeStateHandler moves an episode to a new lifecycle state
func (s *Server) setEpisodeStateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid episode ID"), http.StatusBadRequest)
		return
	}

	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	state := domain.EpisodeState(req.State)
	if err := s.lifecycle.SetState(r.Context(), id, state); err != nil {
		if strings.Contains(err.Error(), "unknown episode state") {
			renderError(w, r, err, http.StatusBadRequest)
			return
		}
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no rows") {
			renderError(w, r, err, http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to set state for episode %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]string{"state": string(state)})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// renderJSON sends data as JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
