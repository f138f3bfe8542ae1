package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xaenox/support-router/internal/models"
)

const (
	defaultSnapshotTTL  = 5 * time.Second
	defaultSnapshotSize = 256
)

// CachedAgentPool serves agent snapshots per tenant for up to ttl. Capacity in
// a snapshot may be stale; CommitAssignment stays the authoritative check.
type CachedAgentPool struct {
	pool  AgentPool
	cache *expirable.LRU[string, []*models.Agent]
}

func NewCachedAgentPool(pool AgentPool, size int, ttl time.Duration) *CachedAgentPool {
	if size <= 0 {
		size = defaultSnapshotSize
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &CachedAgentPool{
		pool:  pool,
		cache: expirable.NewLRU[string, []*models.Agent](size, nil, ttl),
	}
}

func (c *CachedAgentPool) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	if agents, ok := c.cache.Get(tenantID); ok {
		return cloneAgents(agents), nil
	}

	agents, err := c.pool.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(tenantID, cloneAgents(agents))
	return agents, nil
}

// Invalidate drops a tenant's snapshot, typically after a capacity change.
func (c *CachedAgentPool) Invalidate(tenantID string) {
	c.cache.Remove(tenantID)
}

func cloneAgents(in []*models.Agent) []*models.Agent {
	out := make([]*models.Agent, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}
