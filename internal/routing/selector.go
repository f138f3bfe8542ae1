package routing

import (
	"sort"

	"github.com/xaenox/support-router/internal/models"
)

// Rank orders eligible candidates best first. Only online agents with a free
// slot are eligible. Ordering: total score descending, then fewer active
// chats, then higher skill match, then agent id ascending.
func Rank(candidates []models.ScoredAgent) []models.ScoredAgent {
	ranked := make([]models.ScoredAgent, 0, len(candidates))
	for _, c := range candidates {
		if c.Agent == nil || c.Agent.Availability.Status != models.StatusOnline || c.Score.Capacity <= 0 {
			continue
		}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if a.Agent.Availability.CurrentActiveChats != b.Agent.Availability.CurrentActiveChats {
			return a.Agent.Availability.CurrentActiveChats < b.Agent.Availability.CurrentActiveChats
		}
		if a.Score.SkillMatch != b.Score.SkillMatch {
			return a.Score.SkillMatch > b.Score.SkillMatch
		}
		return a.Agent.ID < b.Agent.ID
	})
	return ranked
}

// Select returns the best eligible candidate. ok is false when nobody is
// available, which callers treat as the queue path rather than a failure.
func Select(candidates []models.ScoredAgent) (best models.ScoredAgent, ok bool) {
	ranked := Rank(candidates)
	if len(ranked) == 0 {
		return models.ScoredAgent{}, false
	}
	return ranked[0], true
}
