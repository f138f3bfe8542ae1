package routing

import (
	"github.com/xaenox/support-router/internal/models"
)

// Scorer computes an agent's match against a routing decision under one weight set.
type Scorer struct {
	weights WeightSet
	steps   []ResponseTimeStep
	floor   float64
}

func NewScorer(policy Policy) *Scorer {
	return &Scorer{
		weights: policy.Weights,
		steps:   policy.ResponseTimeSteps,
		floor:   policy.ResponseTimeFloor,
	}
}

func (s *Scorer) Score(agent *models.Agent, decision models.RoutingDecision, language string) models.ScoreBreakdown {
	b := models.ScoreBreakdown{
		SkillMatch:    skillMatch(decision.RequiredSkills, agent.Skills),
		LanguageMatch: languageMatch(language, agent.Languages),
		Performance:   models.Clamp01(agent.Performance.Satisfaction),
		Capacity:      capacity(agent.Availability),
		ResponseTime:  s.responseTime(agent.Performance.AvgResponseTimeSeconds),
	}
	w := s.weights
	b.Total = models.Clamp01(w.SkillMatch*b.SkillMatch +
		w.LanguageMatch*b.LanguageMatch +
		w.Performance*b.Performance +
		w.Capacity*b.Capacity +
		w.ResponseTime*b.ResponseTime)
	return b
}

// ScoreAll scores every candidate in input order.
func (s *Scorer) ScoreAll(agents []*models.Agent, decision models.RoutingDecision, language string) []models.ScoredAgent {
	scored := make([]models.ScoredAgent, 0, len(agents))
	for _, a := range agents {
		scored = append(scored, models.ScoredAgent{Agent: a, Score: s.Score(a, decision, language)})
	}
	return scored
}

func skillMatch(required, have []string) float64 {
	if len(required) == 0 {
		return 0
	}
	owned := make(map[string]struct{}, len(have))
	for _, h := range have {
		owned[h] = struct{}{}
	}
	matched := 0
	for _, r := range required {
		if _, ok := owned[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func languageMatch(language string, spoken []string) float64 {
	for _, l := range spoken {
		if l == language {
			return 1
		}
	}
	return 0
}

// capacity is 0 for agents with no configured slots or no free ones.
func capacity(av models.Availability) float64 {
	if av.MaxConcurrentChats <= 0 {
		return 0
	}
	return models.Clamp01(1 - float64(av.CurrentActiveChats)/float64(av.MaxConcurrentChats))
}

func (s *Scorer) responseTime(seconds float64) float64 {
	for _, step := range s.steps {
		if seconds <= step.MaxSeconds {
			return step.Score
		}
	}
	return s.floor
}
