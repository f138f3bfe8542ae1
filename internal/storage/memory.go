package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/support-router/internal/models"
)

type MemoryStorage struct {
	mu      sync.RWMutex
	agents  map[string]*models.Agent
	current map[string]*models.Assignment // conversation id -> current assignment
	history []*models.Assignment
	queue   []*models.QueueEntry
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		agents:  make(map[string]*models.Agent),
		current: make(map[string]*models.Assignment),
		now:     time.Now,
	}
}

// Agent methods
func (s *MemoryStorage) UpsertAgent(ctx context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := a.Clone()
	c.Normalize()
	s.agents[c.ID] = c
	return nil
}

func (s *MemoryStorage) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.agents[agentID]; ok {
		return a.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if a.TenantID == tenantID {
			agents = append(agents, a.Clone())
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// Assignment methods
func (s *MemoryStorage) CommitAssignment(ctx context.Context, a *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checked under the lock so an abandoned request never commits.
	if err := ctx.Err(); err != nil {
		return err
	}

	agent, ok := s.agents[a.AgentID]
	if !ok {
		return ErrNotFound
	}

	prev := s.current[a.ConversationID]
	sameAgent := prev != nil && prev.AgentID == a.AgentID
	if !sameAgent {
		av := agent.Availability
		if av.Status != models.StatusOnline || av.MaxConcurrentChats <= 0 || av.CurrentActiveChats >= av.MaxConcurrentChats {
			return ErrCapacityExhausted
		}
		agent.Availability.CurrentActiveChats++
	}

	now := s.now().UTC()
	if prev != nil {
		prev.SupersededAt = &now
		if !sameAgent {
			s.releaseLocked(prev.AgentID)
		}
	}

	stored := *a
	s.current[a.ConversationID] = &stored
	s.history = append(s.history, &stored)
	s.removeQueuedLocked(a.ConversationID)
	return nil
}

func (s *MemoryStorage) removeQueuedLocked(conversationID string) {
	for i, q := range s.queue {
		if q.ConversationID == conversationID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *MemoryStorage) CurrentAssignment(ctx context.Context, conversationID string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.current[conversationID]; ok {
		c := *a
		return &c, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) CloseConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.current[conversationID]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	a.SupersededAt = &now
	delete(s.current, conversationID)
	s.releaseLocked(a.AgentID)
	return nil
}

// AssignmentHistory returns every assignment recorded for a conversation, oldest first.
func (s *MemoryStorage) AssignmentHistory(conversationID string) []*models.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Assignment
	for _, a := range s.history {
		if a.ConversationID == conversationID {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}

func (s *MemoryStorage) releaseLocked(agentID string) {
	if agent, ok := s.agents[agentID]; ok && agent.Availability.CurrentActiveChats > 0 {
		agent.Availability.CurrentActiveChats--
	}
}

// Queue methods
func (s *MemoryStorage) Enqueue(ctx context.Context, e *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, q := range s.queue {
		if q.ConversationID == e.ConversationID {
			// Re-queueing replaces the waiting entry but keeps its place in line.
			c := *e
			c.EnqueuedAt = q.EnqueuedAt
			s.queue[i] = &c
			return nil
		}
	}
	c := *e
	s.queue = append(s.queue, &c)
	return nil
}

func (s *MemoryStorage) Dequeue(ctx context.Context, tenantID string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for i, q := range s.queue {
		if q.TenantID != tenantID {
			continue
		}
		if best < 0 || queueLess(q, s.queue[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNotFound
	}
	e := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	return e, nil
}

func (s *MemoryStorage) QueueLength(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, q := range s.queue {
		if q.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// queueLess orders by priority, then arrival.
func queueLess(a, b *models.QueueEntry) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}
