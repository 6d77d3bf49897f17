package draft

import (
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"civicreport/metrics"
	"civicreport/models"
)

// Manager is the registry of active pipelines. Each reporter owns at most
// one active draft; starting a new one evicts and releases the old one.
type Manager struct {
	mu        sync.Mutex
	analyzer  Analyzer
	store     Store
	minHold   time.Duration
	ttl       time.Duration
	pipelines map[string]*entry
	byUser    map[string]string

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type entry struct {
	pipeline  *Pipeline
	userID    string
	createdAt time.Time
}

// NewManager creates a draft manager. ttl bounds how long an abandoned draft
// may hold its image and preview resources.
func NewManager(analyzer Analyzer, store Store, minHold, ttl time.Duration) *Manager {
	m := &Manager{
		analyzer:  analyzer,
		store:     store,
		minHold:   minHold,
		ttl:       ttl,
		pipelines: make(map[string]*entry),
		byUser:    make(map[string]string),
		stopChan:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Create starts a new pipeline for the session's user and returns its
// registry key. A previous draft of the same user is evicted and its
// resources released.
func (m *Manager) Create(session models.AppSession) (string, *Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prevID, ok := m.byUser[session.UserID]; ok {
		if prev, ok := m.pipelines[prevID]; ok {
			prev.pipeline.Release()
			delete(m.pipelines, prevID)
			log.WithField("user_id", session.UserID).Info("evicted previous draft")
		}
		delete(m.byUser, session.UserID)
	}

	p := NewPipeline(m.analyzer, m.store, session, m.minHold)
	// The pipeline has no draft (and thus no draft ID) until an image is
	// attached, so the registry mints its own key.
	key := uuid.New().String()
	m.pipelines[key] = &entry{pipeline: p, userID: session.UserID, createdAt: time.Now()}
	m.byUser[session.UserID] = key
	metrics.ActiveDrafts.Set(float64(len(m.pipelines)))
	return key, p
}

// Get returns the pipeline registered under id.
func (m *Manager) Get(id string) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pipelines[id]
	if !ok {
		return nil, false
	}
	return e.pipeline, true
}

// Remove releases and unregisters the pipeline with the given id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.pipelines[id]; ok {
		e.pipeline.Release()
		delete(m.byUser, e.userID)
		delete(m.pipelines, id)
	}
	metrics.ActiveDrafts.Set(float64(len(m.pipelines)))
}

// Stop shuts down the janitor and releases every remaining draft.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.pipelines {
		e.pipeline.Release()
		delete(m.pipelines, id)
	}
	m.byUser = make(map[string]string)
	metrics.ActiveDrafts.Set(0)
}

// janitor evicts drafts that outlived the TTL, releasing their resources.
func (m *Manager) janitor() {
	defer m.wg.Done()
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, e := range m.pipelines {
				if now.Sub(e.createdAt) > m.ttl {
					e.pipeline.Release()
					delete(m.byUser, e.userID)
					delete(m.pipelines, id)
					log.WithFields(log.Fields{
						"draft_id": id,
						"user_id":  e.userID,
					}).Info("expired draft evicted")
				}
			}
			metrics.ActiveDrafts.Set(float64(len(m.pipelines)))
			m.mu.Unlock()
		}
	}
}
