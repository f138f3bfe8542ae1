package models

import (
	"errors"
	"fmt"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from low (1) to urgent (4); unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// RoutingDecision is the bot-versus-human verdict for one message
type RoutingDecision struct {
	NeedsHuman                   bool     `json:"needs_human"`
	Priority                     Priority `json:"priority"`
	PriorityScore                float64  `json:"priority_score"`
	RequiredSkills               []string `json:"required_skills"`
	EstimatedHandlingTimeMinutes int      `json:"estimated_handling_time_minutes"`
}

// ScoreBreakdown holds the per-factor match terms of one agent and their weighted total
type ScoreBreakdown struct {
	SkillMatch    float64 `json:"skill_match"`
	LanguageMatch float64 `json:"language_match"`
	Performance   float64 `json:"performance"`
	Capacity      float64 `json:"capacity"`
	ResponseTime  float64 `json:"response_time"`
	Total         float64 `json:"total"`
}

// ScoredAgent pairs a candidate with its breakdown
type ScoredAgent struct {
	Agent *Agent         `json:"agent"`
	Score ScoreBreakdown `json:"score"`
}

// AIContext is the payload handed to the agent UI alongside an assignment
type AIContext struct {
	Sentiment            Sentiment `json:"sentiment"`
	SentimentConfidence  float64   `json:"sentiment_confidence"`
	Intent               string    `json:"intent"`
	Complexity           float64   `json:"complexity"`
	Urgency              float64   `json:"urgency"`
	Language             string    `json:"language"`
	Topics               []string  `json:"topics,omitempty"`
	SuggestedApproach    string    `json:"suggested_approach"`
	KeyPoints            []string  `json:"key_points"`
	RecommendedTemplates []string  `json:"recommended_templates"`
}

// Assignment binds a conversation to an agent. A new assignment supersedes the
// previous one instead of mutating it.
type Assignment struct {
	ID                           string         `json:"id"`
	TenantID                     string         `json:"tenant_id"`
	ConversationID               string         `json:"conversation_id"`
	AgentID                      string         `json:"agent_id"`
	Priority                     Priority       `json:"priority"`
	RequiredSkills               []string       `json:"required_skills"`
	EstimatedHandlingTimeMinutes int            `json:"estimated_handling_time_minutes"`
	Score                        ScoreBreakdown `json:"score"`
	AIContext                    AIContext      `json:"ai_context"`
	CreatedAt                    time.Time      `json:"created_at"`
	SupersededAt                 *time.Time     `json:"superseded_at,omitempty"`
}

type ResponseType string

const (
	ResponseAIGenerated ResponseType = "ai_generated"
	ResponseFallback    ResponseType = "fallback"
	ResponseQueued      ResponseType = "queued"
)

// BotResponse is what the customer receives when no agent takes the conversation
type BotResponse struct {
	Text         string       `json:"response_text"`
	Confidence   float64      `json:"confidence"`
	ResponseType ResponseType `json:"response_type"`
}

// QueueEntry is a conversation waiting for an agent
type QueueEntry struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Priority       Priority  `json:"priority"`
	RequiredSkills []string  `json:"required_skills"`
	Language       string    `json:"language"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

type AlertKind string

const (
	AlertEscalationRisk AlertKind = "escalation_risk"
	AlertSLABreach      AlertKind = "sla_breach"
)

// MonitoringAlert is an advisory signal about an ongoing conversation
type MonitoringAlert struct {
	ID             string    `json:"id"`
	Kind           AlertKind `json:"kind"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	EscalationRisk float64   `json:"escalation_risk"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

// ValidationError reports malformed input rejected at the routing boundary
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConversationState is the monitor's view of one ongoing conversation
type ConversationState struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Language       string    `json:"language"`
	Priority       Priority  `json:"priority"`
	Sentiment      Sentiment `json:"sentiment"`
	StartedAt      time.Time `json:"started_at"`
	LastCustomerAt time.Time `json:"last_customer_at"`
	LastAgentAt    time.Time `json:"last_agent_at"`
	EscalationRisk float64   `json:"escalation_risk"`
	Alerted        bool      `json:"alerted"`
	SLABreached    bool      `json:"sla_breached"`
}

// AwaitingAgent reports whether the customer spoke last.
func (s *ConversationState) AwaitingAgent() bool {
	return !s.LastCustomerAt.IsZero() && s.LastCustomerAt.After(s.LastAgentAt)
}
