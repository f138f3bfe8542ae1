package routing

import (
	"math"
	"sort"

	"github.com/xaenox/support-router/internal/models"
)

// Decider turns an analysis vector into a routing decision. It is pure.
type Decider struct {
	policy Policy
}

func NewDecider(policy Policy) *Decider {
	return &Decider{policy: policy}
}

// Decide expects a normalized vector.
func (d *Decider) Decide(a *models.AnalysisVector) models.RoutingDecision {
	score := d.priorityScore(a)
	return models.RoutingDecision{
		NeedsHuman:                   d.needsHuman(a),
		Priority:                     d.priorityFor(score),
		PriorityScore:                score,
		RequiredSkills:               d.requiredSkills(a),
		EstimatedHandlingTimeMinutes: d.handlingTime(a),
	}
}

func (d *Decider) needsHuman(a *models.AnalysisVector) bool {
	c := d.policy.HumanCutoffs
	return a.Complexity > c.Complexity ||
		a.Sentiment.Overall == models.SentimentNegative ||
		a.Urgency > c.Urgency ||
		a.Intent.RequiresHuman
}

func (d *Decider) priorityScore(a *models.AnalysisVector) float64 {
	w := d.policy.PriorityWeights
	s := w.Complexity*a.Complexity +
		w.Sentiment*d.policy.SentimentWeights[a.Sentiment.Overall] +
		w.Urgency*a.Urgency
	// Round away float noise so band edges compare exactly.
	return math.Round(s*1e9) / 1e9
}

func (d *Decider) priorityFor(score float64) models.Priority {
	t := d.policy.PriorityThresholds
	switch {
	case score >= t.Urgent:
		return models.PriorityUrgent
	case score >= t.High:
		return models.PriorityHigh
	case score >= t.Medium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func (d *Decider) requiredSkills(a *models.AnalysisVector) []string {
	set := make(map[string]struct{})
	for _, s := range d.policy.IntentSkills[a.Intent.Primary] {
		set[s] = struct{}{}
	}
	if a.Sentiment.Overall == models.SentimentNegative {
		for _, s := range d.policy.NegativeSkills {
			set[s] = struct{}{}
		}
	}
	if a.Complexity > d.policy.HumanCutoffs.Complexity {
		for _, s := range d.policy.ComplexSkills {
			set[s] = struct{}{}
		}
	}

	skills := make([]string, 0, len(set))
	for s := range set {
		skills = append(skills, s)
	}
	sort.Strings(skills)
	return skills
}

func (d *Decider) handlingTime(a *models.AnalysisVector) int {
	return int(d.policy.HandlingBase + d.policy.HandlingSlope*a.Complexity)
}
