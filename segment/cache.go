package segment

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"climbwall/metrics"

	log "github.com/sirupsen/logrus"
)

var errSessionNotInCache = errors.New("the session isn't in cache")

// SessionFactory Create a fresh session for the given id
type SessionFactory func(id string) *Session

// SessionCache Keeps the annotation sessions in memory and drops the ones that were idle for longer than ttl
type SessionCache struct {
	stop chan struct{}

	wg       sync.WaitGroup
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	factory  SessionFactory
}

// NewSessionCache Create a new session cache, idle sessions are checked every cleanupInterval
func NewSessionCache(cleanupInterval time.Duration, ttl time.Duration, factory SessionFactory) *SessionCache {
	log.Info("Creating new session cache with cleanup interval ", cleanupInterval)
	sc := &SessionCache{
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		ttl:      ttl,
		factory:  factory,
	}

	sc.wg.Add(1)
	go func(cleanupInterval time.Duration) {
		defer sc.wg.Done()
		sc.cleanupLoop(cleanupInterval)
	}(cleanupInterval)

	return sc
}

// cleanupLoop Delete sessions that expired
func (sc *SessionCache) cleanupLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-sc.stop:
			return
		case <-t.C:
			sc.expire(time.Now())
		}
	}
}

func (sc *SessionCache) expire(now time.Time) {
	// LastUsed waits for running operations, so it is not called with the cache lock held
	sc.mu.RLock()
	candidates := make(map[string]*Session, len(sc.sessions))
	for id, session := range sc.sessions {
		candidates[id] = session
	}
	sc.mu.RUnlock()

	var expired []string
	for id, session := range candidates {
		if now.Sub(session.LastUsed()) >= sc.ttl {
			expired = append(expired, id)
		}
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, id := range expired {
		if sc.sessions[id] == candidates[id] {
			log.Info("Session expired: ", id)
			delete(sc.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(sc.sessions)))
}

// Stop Stop the cleanup loop
func (sc *SessionCache) Stop() {
	close(sc.stop)
	sc.wg.Wait()
}

// Read Read a session from the cache
func (sc *SessionCache) Read(id string) (*Session, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	session, ok := sc.sessions[id]
	if !ok {
		log.Debug("Session not found ", id)
		return nil, errSessionNotInCache
	}
	return session, nil
}

// GetOrCreate Return the session with this id, creating it when it does not exist
func (sc *SessionCache) GetOrCreate(id string) *Session {
	if session, err := sc.Read(id); err == nil {
		return session
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if session, ok := sc.sessions[id]; ok {
		return session
	}
	log.Debug(fmt.Sprintf("Creating session %s", id))
	session := sc.factory(id)
	sc.sessions[id] = session
	metrics.ActiveSessions.Set(float64(len(sc.sessions)))
	return session
}

// Delete Remove a session from the cache
func (sc *SessionCache) Delete(id string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.sessions, id)
	metrics.ActiveSessions.Set(float64(len(sc.sessions)))
}

// Len Number of sessions in the cache
func (sc *SessionCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.sessions)
}

// EmptyCache Remove all sessions
func (sc *SessionCache) EmptyCache() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	log.Debug("Emptying complete cache.")
	sc.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
}
