package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/support-router/internal/models"
	"github.com/xaenox/support-router/internal/responder"
	"github.com/xaenox/support-router/internal/storage"
	"go.uber.org/zap"
)

// ErrNoAgentAvailable marks the queue path. Route never returns it.
var ErrNoAgentAvailable = errors.New("no agent available")

// AnalysisProvider produces the analysis vector for an inbound message.
type AnalysisProvider interface {
	Analyze(ctx context.Context, content, language string) (*models.AnalysisVector, error)
}

// Responder answers messages that stay with the bot.
type Responder interface {
	Respond(ctx context.Context, content string, analysis *models.AnalysisVector) models.BotResponse
}

type AssignmentPublisher interface {
	PublishAssignment(ctx context.Context, a *models.Assignment) error
}

// Recorder receives routing measurements.
type Recorder interface {
	RouteCompleted(outcome, priority string, elapsed time.Duration)
	CommitConflict()
	Degraded(stage string)
}

// Submitter accepts re-routes for asynchronous processing. Submit reports
// false when the request could not be accepted.
type Submitter interface {
	Submit(req RouteRequest) bool
}

type snapshotInvalidator interface {
	Invalidate(tenantID string)
}

type queueRecorder interface {
	QueueDepth(tenantID string, n int)
}

type OutcomeKind string

const (
	OutcomeAssigned OutcomeKind = "assigned"
	OutcomeBot      OutcomeKind = "bot"
	OutcomeQueued   OutcomeKind = "queued"
)

type RouteRequest struct {
	TenantID       string
	ConversationID string
	Message        string
	Language       string
	// Analysis, when set, is used instead of calling the provider and is
	// validated strictly.
	Analysis *models.AnalysisVector
	// Escalation forces the human path. The monitor sets it on re-routes.
	Escalation bool
	// Queued is set when a waiting conversation is offered freed capacity.
	// Its priority and skills replace the decision and it keeps its place
	// in line if no agent takes it.
	Queued *models.QueueEntry
}

type Outcome struct {
	Kind       OutcomeKind
	Decision   models.RoutingDecision
	Analysis   *models.AnalysisVector
	Assignment *models.Assignment
	Queued     *models.QueueEntry
	Response   *models.BotResponse
	// Unchanged is set when no other agent could take a conversation and
	// it stayed with its current agent.
	Unchanged bool
	// Degraded is set when a collaborator failed and a default was used.
	Degraded bool
	Attempts int
}

// Deps are the collaborators of an Engine. Agents, Assignments and Queue are required.
type Deps struct {
	Analyzer    AnalysisProvider
	Agents      storage.AgentPool
	Assignments storage.AssignmentStore
	Queue       storage.Queue
	Responder   Responder
	Publisher   AssignmentPublisher
	Metrics     Recorder
	// Requeue receives queued conversations when capacity frees up. They
	// are routed inline when it is nil or full.
	Requeue Submitter
}

type Engine struct {
	policy  Policy
	decider *Decider
	scorer  *Scorer
	builder *Builder
	deps    Deps
	now     func() time.Time
	logger  *zap.Logger
}

func NewEngine(policy Policy, deps Deps, logger *zap.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing policy: %w", err)
	}
	if deps.Agents == nil || deps.Assignments == nil || deps.Queue == nil {
		return nil, errors.New("routing engine needs an agent pool, an assignment store and a queue")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Responder == nil {
		deps.Responder = responder.NewHandler(nil, 0, logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &Engine{
		policy:  policy,
		decider: NewDecider(policy),
		scorer:  NewScorer(policy),
		builder: NewBuilder(),
		deps:    deps,
		now:     time.Now,
		logger:  logger,
	}, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// SetRequeue installs the submitter for queued conversations. It must be
// called before the engine serves requests.
func (e *Engine) SetRequeue(s Submitter) {
	e.deps.Requeue = s
}

// Route runs one message through the pipeline. The only errors returned are
// validation errors for caller input and the caller's own context error.
func (e *Engine) Route(ctx context.Context, req RouteRequest) (*Outcome, error) {
	start := e.now()
	if req.ConversationID == "" {
		return nil, &models.ValidationError{Field: "conversation_id", Reason: "required"}
	}

	analysis, degraded, err := e.analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	decision := e.decider.Decide(analysis)
	if req.Escalation {
		decision.NeedsHuman = true
	}
	if q := req.Queued; q != nil {
		decision.NeedsHuman = true
		decision.Priority = q.Priority
		decision.RequiredSkills = append([]string(nil), q.RequiredSkills...)
	}

	var out *Outcome
	if !decision.NeedsHuman {
		resp := e.deps.Responder.Respond(ctx, req.Message, analysis)
		out = &Outcome{Kind: OutcomeBot, Response: &resp}
	} else {
		out, err = e.routeToHuman(ctx, req, decision, analysis)
		if err != nil {
			if req.Queued != nil {
				e.restore(req.Queued)
			}
			return nil, err
		}
		degraded = degraded || out.Degraded
	}

	out.Decision = decision
	out.Analysis = analysis
	out.Degraded = degraded
	e.deps.Metrics.RouteCompleted(string(out.Kind), string(decision.Priority), e.now().Sub(start))
	return out, nil
}

func (e *Engine) analyze(ctx context.Context, req RouteRequest) (*models.AnalysisVector, bool, error) {
	if req.Analysis != nil {
		v := *req.Analysis
		if err := v.Validate(); err != nil {
			return nil, false, err
		}
		v.Normalize()
		return &v, false, nil
	}
	if e.deps.Analyzer == nil || req.Queued != nil {
		return models.NeutralAnalysis(req.Language), false, nil
	}

	actx, cancel := withTimeout(ctx, e.policy.Timeouts.Analysis)
	defer cancel()

	v, err := e.deps.Analyzer.Analyze(actx, req.Message, req.Language)
	if err == nil && v != nil {
		err = v.Validate()
	} else if err == nil {
		err = errors.New("analyzer returned no vector")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		e.logger.Warn("Analysis unavailable, using neutral defaults",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		e.deps.Metrics.Degraded("analysis")
		return models.NeutralAnalysis(req.Language), true, nil
	}
	v.Normalize()
	return v, false, nil
}

func (e *Engine) listAgents(ctx context.Context, tenantID string) ([]*models.Agent, bool) {
	pctx, cancel := withTimeout(ctx, e.policy.Timeouts.AgentPool)
	defer cancel()

	agents, err := e.deps.Agents.ListAgents(pctx, tenantID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("Agent pool unavailable, treating as empty",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			e.deps.Metrics.Degraded("agent_pool")
		}
		return nil, true
	}

	normalized := make([]*models.Agent, 0, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		c := a.Clone()
		c.Normalize()
		normalized = append(normalized, c)
	}
	return normalized, false
}

func (e *Engine) routeToHuman(ctx context.Context, req RouteRequest, decision models.RoutingDecision, analysis *models.AnalysisVector) (*Outcome, error) {
	agents, degraded := e.listAgents(ctx, req.TenantID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current := e.currentAssignment(ctx, req.ConversationID)
	if current != nil {
		releaseSlot(agents, current.AgentID)
	}

	a, attempts, err := e.commit(ctx, req, decision, analysis, agents)
	switch {
	case err == nil:
		e.afterCommit(ctx, a)
		return &Outcome{Kind: OutcomeAssigned, Assignment: a, Degraded: degraded, Attempts: attempts}, nil

	case ctx.Err() != nil:
		return nil, ctx.Err()

	case errors.Is(err, storage.ErrConcurrentAssignment):
		// Another request for the same conversation committed first; report its result.
		winner, cerr := e.deps.Assignments.CurrentAssignment(ctx, req.ConversationID)
		if cerr == nil {
			return &Outcome{Kind: OutcomeAssigned, Assignment: winner, Degraded: degraded, Attempts: attempts}, nil
		}
		e.logger.Warn("Concurrent assignment not readable, queueing",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(cerr))

	case errors.Is(err, ErrNoAgentAvailable):
	default:
		e.logger.Error("Failed to commit assignment",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		degraded = true
	}

	if current != nil {
		e.logger.Info("No other agent available, keeping current assignment",
			zap.String("conversation_id", req.ConversationID),
			zap.String("agent_id", current.AgentID))
		return &Outcome{Kind: OutcomeAssigned, Assignment: current, Unchanged: true, Degraded: degraded, Attempts: attempts}, nil
	}

	out, qerr := e.enqueue(ctx, req, decision, analysis)
	if qerr != nil {
		return nil, qerr
	}
	out.Degraded = degraded
	out.Attempts = attempts
	return out, nil
}

// commit picks the best agent and tries to claim its slot. Losing a race for
// the last slot drops that agent and re-scores the rest.
func (e *Engine) commit(ctx context.Context, req RouteRequest, decision models.RoutingDecision, analysis *models.AnalysisVector, agents []*models.Agent) (*models.Assignment, int, error) {
	candidates := e.scorer.ScoreAll(agents, decision, analysis.Language)

	attempts := 0
	for attempts < e.policy.MaxCommitAttempts {
		winner, ok := Select(candidates)
		if !ok {
			return nil, attempts, ErrNoAgentAvailable
		}
		attempts++

		a := e.builder.Build(req.TenantID, req.ConversationID, decision, winner, analysis)
		err := e.deps.Assignments.CommitAssignment(ctx, a)
		if err == nil {
			return a, attempts, nil
		}
		if !errors.Is(err, storage.ErrCapacityExhausted) && !errors.Is(err, storage.ErrNotFound) {
			return nil, attempts, err
		}

		e.logger.Warn("Lost capacity race, re-scoring remaining agents",
			zap.String("conversation_id", req.ConversationID),
			zap.String("agent_id", winner.Agent.ID),
			zap.Int("attempt", attempts),
			zap.Error(err))
		e.deps.Metrics.CommitConflict()
		e.invalidate(req.TenantID)
		candidates = without(candidates, winner.Agent.ID)
	}
	return nil, attempts, ErrNoAgentAvailable
}

func (e *Engine) afterCommit(ctx context.Context, a *models.Assignment) {
	e.invalidate(a.TenantID)
	e.logger.Info("Conversation assigned",
		zap.String("conversation_id", a.ConversationID),
		zap.String("agent_id", a.AgentID),
		zap.String("priority", string(a.Priority)),
		zap.Float64("score", a.Score.Total))

	if e.deps.Publisher == nil {
		return
	}
	if err := e.deps.Publisher.PublishAssignment(ctx, a); err != nil {
		e.logger.Warn("Failed to publish assignment",
			zap.String("conversation_id", a.ConversationID),
			zap.Error(err))
	}
}

func (e *Engine) enqueue(ctx context.Context, req RouteRequest, decision models.RoutingDecision, analysis *models.AnalysisVector) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry := &models.QueueEntry{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		Priority:       decision.Priority,
		RequiredSkills: append([]string(nil), decision.RequiredSkills...),
		Language:       analysis.Language,
		EnqueuedAt:     e.now().UTC(),
	}
	if q := req.Queued; q != nil {
		entry.ID = q.ID
		entry.EnqueuedAt = q.EnqueuedAt
	}
	degraded := false
	if err := e.deps.Queue.Enqueue(ctx, entry); err != nil {
		e.logger.Error("Failed to enqueue conversation",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		degraded = true
	}

	e.recordQueueDepth(ctx, req.TenantID)

	notice := responder.QueueNotice(analysis.Language)
	return &Outcome{Kind: OutcomeQueued, Queued: entry, Response: &notice, Degraded: degraded}, nil
}

func (e *Engine) currentAssignment(ctx context.Context, conversationID string) *models.Assignment {
	current, err := e.deps.Assignments.CurrentAssignment(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && ctx.Err() == nil {
			e.logger.Warn("Failed to look up current assignment",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
		}
		return nil
	}
	return current
}

// CloseConversation ends the current assignment, frees the agent's slot and
// offers it to the next queued conversation of the tenant.
func (e *Engine) CloseConversation(ctx context.Context, conversationID string) error {
	current, err := e.deps.Assignments.CurrentAssignment(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("close conversation %s: %w", conversationID, err)
	}
	if err := e.deps.Assignments.CloseConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("close conversation %s: %w", conversationID, err)
	}
	e.invalidate(current.TenantID)
	e.logger.Info("Conversation closed",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", current.AgentID))

	e.promoteNext(ctx, current.TenantID)
	return nil
}

// promoteNext takes the tenant's next queued conversation and routes it again.
func (e *Engine) promoteNext(ctx context.Context, tenantID string) {
	entry, err := e.deps.Queue.Dequeue(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("Failed to dequeue conversation",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
		return
	}
	e.recordQueueDepth(ctx, tenantID)

	req := RouteRequest{
		TenantID:       entry.TenantID,
		ConversationID: entry.ConversationID,
		Language:       entry.Language,
		Queued:         entry,
	}
	if e.deps.Requeue != nil {
		if e.deps.Requeue.Submit(req) {
			e.logger.Info("Queued conversation submitted for routing",
				zap.String("conversation_id", entry.ConversationID))
			return
		}
		e.logger.Warn("Re-route backlog full, routing queued conversation inline",
			zap.String("conversation_id", entry.ConversationID))
	}

	if _, err := e.Route(ctx, req); err != nil {
		e.logger.Warn("Failed to route queued conversation",
			zap.String("conversation_id", entry.ConversationID),
			zap.Error(err))
	}
}

// restore puts a dequeued entry back in line after its re-route was cut short.
func (e *Engine) restore(entry *models.QueueEntry) {
	ctx, cancel := withTimeout(context.Background(), e.policy.Timeouts.AgentPool)
	defer cancel()
	if err := e.deps.Queue.Enqueue(ctx, entry); err != nil {
		e.logger.Error("Failed to restore queued conversation",
			zap.String("conversation_id", entry.ConversationID),
			zap.Error(err))
	}
}

func (e *Engine) recordQueueDepth(ctx context.Context, tenantID string) {
	rec, ok := e.deps.Metrics.(queueRecorder)
	if !ok {
		return
	}
	n, err := e.deps.Queue.QueueLength(ctx, tenantID)
	if err != nil {
		e.logger.Debug("Failed to read queue length",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return
	}
	rec.QueueDepth(tenantID, n)
}

func (e *Engine) invalidate(tenantID string) {
	if inv, ok := e.deps.Agents.(snapshotInvalidator); ok {
		inv.Invalidate(tenantID)
	}
}

// releaseSlot counts the conversation's own slot as free on its current agent
// so a re-route can land there again.
func releaseSlot(agents []*models.Agent, agentID string) {
	for _, a := range agents {
		if a.ID == agentID && a.Availability.CurrentActiveChats > 0 {
			a.Availability.CurrentActiveChats--
			return
		}
	}
}

func without(candidates []models.ScoredAgent, agentID string) []models.ScoredAgent {
	out := make([]models.ScoredAgent, 0, len(candidates))
	for _, c := range candidates {
		if c.Agent.ID != agentID {
			out = append(out, c)
		}
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

type nopRecorder struct{}

func (nopRecorder) RouteCompleted(string, string, time.Duration) {}

func (nopRecorder) CommitConflict() {}

func (nopRecorder) Degraded(string) {}
