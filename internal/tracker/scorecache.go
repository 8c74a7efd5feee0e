package tracker

import (
	"sync"
	"time"

	"github.com/beaconsoft/botgate/internal/bus"
	"github.com/beaconsoft/botgate/internal/detect"
)

// ScoreEntry is the latest per-session verdict kept for the status API.
type ScoreEntry struct {
	SessionID      string    `json:"session_id"`
	BotScore       float64   `json:"bot_score"`
	HumanScore     float64   `json:"human_score"`
	RiskLevel      string    `json:"risk_level"`
	Recommendation string    `json:"recommendation"`
	ActionType     string    `json:"action_type,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ScoreCache keeps the most recent detection result per session and
// notifies subscribers on every update.
type ScoreCache struct {
	mu      sync.RWMutex
	entries map[string]ScoreEntry
	updates *bus.Bus[ScoreEntry]
}

func NewScoreCache() *ScoreCache {
	return &ScoreCache{
		entries: make(map[string]ScoreEntry),
		updates: bus.New[ScoreEntry](),
	}
}

// Put stores the result as the session's current score.
func (c *ScoreCache) Put(res detect.Result) {
	entry := ScoreEntry{
		SessionID:      res.SessionID,
		BotScore:       res.BotScore,
		HumanScore:     res.HumanScore,
		RiskLevel:      res.RiskLevel,
		Recommendation: res.Recommendation,
		ActionType:     res.ActionType,
		UpdatedAt:      time.Now(),
	}
	c.mu.Lock()
	c.entries[res.SessionID] = entry
	c.mu.Unlock()
	c.updates.Publish(entry)
}

// Get returns the current score for a session.
func (c *ScoreCache) Get(sessionID string) (ScoreEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[sessionID]
	return e, ok
}

// Subscribe registers an update listener, optionally filtered to one
// session. Empty sessionID receives all updates.
func (c *ScoreCache) Subscribe(sessionID string, handler func(ScoreEntry)) bus.UnsubscribeFunc {
	return c.updates.Subscribe(func(e ScoreEntry) bool {
		return sessionID == "" || e.SessionID == sessionID
	}, handler)
}

// Forget drops a session's entry, called on eviction.
func (c *ScoreCache) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}
