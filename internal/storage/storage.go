package storage

import (
	"context"
	"errors"

	"github.com/xaenox/support-router/internal/models"
)

var (
	// ErrCapacityExhausted means another request took the agent's last free
	// slot or the agent went offline.
	ErrCapacityExhausted = errors.New("agent has no free capacity")
	ErrNotFound          = errors.New("not found")

	// ErrConcurrentAssignment means another request assigned the conversation first.
	ErrConcurrentAssignment = errors.New("conversation was assigned concurrently")
)

// AgentPool returns the agents eligible for assignment in a tenant.
type AgentPool interface {
	ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error)
}

// AssignmentStore owns agent capacity and the current assignment per conversation.
type AssignmentStore interface {
	// CommitAssignment atomically claims one slot on the assignment's agent,
	// supersedes the conversation's previous assignment (releasing that agent's
	// slot) and records the new one. It returns ErrCapacityExhausted without
	// changing anything if the agent is full.
	CommitAssignment(ctx context.Context, a *models.Assignment) error
	CurrentAssignment(ctx context.Context, conversationID string) (*models.Assignment, error)
	// CloseConversation supersedes the current assignment and frees its slot.
	CloseConversation(ctx context.Context, conversationID string) error
}

// Queue holds conversations waiting for an agent, highest priority first.
type Queue interface {
	Enqueue(ctx context.Context, e *models.QueueEntry) error
	Dequeue(ctx context.Context, tenantID string) (*models.QueueEntry, error)
	QueueLength(ctx context.Context, tenantID string) (int, error)
}

type Storage interface {
	AgentPool
	AssignmentStore
	Queue
	UpsertAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
	Close() error
}
