package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/podscope/podscope/pkg/domain"
)

// decayWindow is how long an episode may sit in NEW before the sweep
// demotes it regardless of the session grace flag.
const defaultDecayWindow = 7 * 24 * time.Hour

// EpisodeStore is the persistence surface for lifecycle operations
type EpisodeStore interface {
	GetEpisode(ctx context.Context, id int64) (*domain.Episode, error)
	UpdateEpisodeState(ctx context.Context, id int64, state domain.EpisodeState, now time.Time) error
	DecayEpisodes(ctx context.Context, cutoff time.Time) (int64, error)
}

// Engine owns episode state transitions: the explicit user-driven SetState
// and the time/flag-driven decay sweep.
type Engine struct {
	store       EpisodeStore
	decayWindow time.Duration
	now         func() time.Time
}

// NewEngine creates a lifecycle engine with the default 7 day decay window
func NewEngine(store EpisodeStore) *Engine {
	return &Engine{store: store, decayWindow: defaultDecayWindow, now: time.Now}
}

// NewEngineWithWindow creates a lifecycle engine with a custom decay window
func NewEngineWithWindow(store EpisodeStore, window time.Duration) *Engine {
	e := NewEngine(store)
	if window > 0 {
		e.decayWindow = window
	}
	return e
}

// SetState applies an explicit state change and stamps the state's
// timestamp. Transitions outside the lifecycle table are applied anyway,
// the permissiveness is deliberate (it keeps "unlisten" working) but every
// such transition is flagged in the log.
func (e *Engine) SetState(ctx context.Context, episodeID int64, state domain.EpisodeState) error {
	if !state.Valid() {
		return fmt.Errorf("unknown episode state %q", state)
	}

	episode, err := e.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return fmt.Errorf("load episode %d: %w", episodeID, err)
	}

	if episode.State == state {
		return nil
	}

	if !domain.AllowedTransition(episode.State, state) {
		lgr.Printf("[WARN] episode %d transition %s -> %s outside lifecycle table, applying anyway",
			episodeID, episode.State, state)
	}

	if err := e.store.UpdateEpisodeState(ctx, episodeID, state, e.now()); err != nil {
		return fmt.Errorf("set episode %d state: %w", episodeID, err)
	}
	return nil
}

// Sweep runs the decay pass in one bulk operation: NEW episodes that carry
// the session grace flag or were fetched before the window cutoff become
// AVAILABLE with the flag cleared. BACKLOG and LISTENED are never touched.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-e.decayWindow)
	affected, err := e.store.DecayEpisodes(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("decay sweep: %w", err)
	}
	if affected > 0 {
		lgr.Printf("[INFO] decay sweep moved %d episodes to available", affected)
	}
	return affected, nil
}
