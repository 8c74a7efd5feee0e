package tracker

import (
	"log"
	"sync"
	"time"

	"github.com/beaconsoft/botgate/internal/detect"
	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/pkg/config"
)

const sweepInterval = time.Minute

// Session pairs a tracker with its detection engine.
type Session struct {
	ID      string
	Tracker *Tracker
	Engine  *detect.Engine

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry owns all live sessions. Idle sessions are evicted after the
// configured TTL; eviction stops the tracker and engine and drops the
// cached score.
type Registry struct {
	transport detect.Transport
	scores    *ScoreCache
	audit     func(detect.Result)
	engineCfg config.EngineConfig
	collect   config.CollectConfig

	mu       sync.Mutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRegistry(transport detect.Transport, scores *ScoreCache, audit func(detect.Result), engineCfg config.EngineConfig, collectCfg config.CollectConfig) *Registry {
	r := &Registry{
		transport: transport,
		scores:    scores,
		audit:     audit,
		engineCfg: engineCfg,
		collect:   collectCfg,
		sessions:  make(map[string]*Session),
		stopCh:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Get returns the live session, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.touch()
		return s
	}
	return nil
}

// GetOrCreate returns the session, creating and starting it on first
// sight. New sessions begin their timed detection horizons immediately.
func (r *Registry) GetOrCreate(sessionID string, pageCtx detect.Context, pageLoadTime int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.touch()
		return s
	}

	t := New(Options{
		SessionID:        sessionID,
		Transport:        r.transport,
		ScheduleInterval: r.engineCfg.ScheduleInterval,
		MaxRecentActions: r.collect.MaxRecentActions,
		PageLoadTime:     pageLoadTime,
		PageContext:      pageCtx,
		Audit: func(res detect.Result) {
			r.scores.Put(res)
			if r.audit != nil {
				r.audit(res)
			}
		},
	})
	engine := detect.NewEngine(t, t.Results, r.engineCfg)

	s := &Session{ID: sessionID, Tracker: t, Engine: engine, lastSeen: time.Now()}
	r.sessions[sessionID] = s
	metrics.SessionsActive.Set(float64(len(r.sessions)))

	t.Start()
	engine.StartTimers()
	log.Printf("[tracker] session %s started", sessionID)
	return s
}

// Close stops the sweeper and every live session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		r.mu.Lock()
		defer r.mu.Unlock()
		for id, s := range r.sessions {
			s.Engine.Stop()
			s.Tracker.Stop()
			delete(r.sessions, id)
		}
		metrics.SessionsActive.Set(0)
	})
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) evictIdle() {
	ttl := r.collect.SessionIdleTTL
	if ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var evict []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			evict = append(evict, s)
			delete(r.sessions, id)
		}
	}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range evict {
		s.Engine.Stop()
		s.Tracker.Stop()
		r.scores.Forget(s.ID)
		log.Printf("[tracker] session %s evicted after idle TTL", s.ID)
	}
}
