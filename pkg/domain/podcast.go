package domain

import "time"

// Podcast represents a subscribed show
type Podcast struct {
	ID            int64
	FeedURL       string
	Title         string
	Description   string
	ImageURL      string
	CatalogID     string // optional id in the external podcast catalog
	LastRefreshAt time.Time
	CreatedAt     time.Time
}

// RefreshState describes where a podcast stands in the refresh rate limit.
type RefreshState string

const (
	RefreshNeverRefreshed RefreshState = "never_refreshed"
	RefreshCooling        RefreshState = "cooling"
	RefreshEligible       RefreshState = "eligible"
)

// RefreshStateAt reports the podcast's refresh state for the given cooldown window.
// A podcast is eligible when it was never refreshed or the cooldown has elapsed.
func (p *Podcast) RefreshStateAt(now time.Time, cooldown time.Duration) RefreshState {
	if p.LastRefreshAt.IsZero() {
		return RefreshNeverRefreshed
	}
	if now.Sub(p.LastRefreshAt) > cooldown {
		return RefreshEligible
	}
	return RefreshCooling
}
