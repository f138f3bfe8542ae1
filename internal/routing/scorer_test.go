package routing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/support-router/internal/models"
)

func agent(id string, skills []string, satisfaction float64, active, maxChats int, responseSeconds float64) *models.Agent {
	return &models.Agent{
		ID:        id,
		TenantID:  "t1",
		Skills:    skills,
		Languages: []string{"en"},
		Performance: models.Performance{
			Satisfaction:           satisfaction,
			AvgResponseTimeSeconds: responseSeconds,
		},
		Availability: models.Availability{
			Status:             models.StatusOnline,
			CurrentActiveChats: active,
			MaxConcurrentChats: maxChats,
		},
	}
}

func TestScorer_BetterSkillMatchWins(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	decision := models.RoutingDecision{NeedsHuman: true, RequiredSkills: []string{"billing", "empathy"}}

	a := agent("a", []string{"billing", "empathy"}, 0.9, 1, 5, 20)
	b := agent("b", []string{"billing"}, 0.9, 1, 5, 20)

	sa := s.Score(a, decision, "en")
	sb := s.Score(b, decision, "en")

	assert.Equal(t, 1.0, sa.SkillMatch)
	assert.Equal(t, 1.0, sa.LanguageMatch)
	assert.Equal(t, 0.9, sa.Performance)
	assert.InDelta(t, 0.8, sa.Capacity, 1e-12)
	assert.Equal(t, 1.0, sa.ResponseTime)
	assert.InDelta(t, 0.94, sa.Total, 1e-9)

	assert.Equal(t, 0.5, sb.SkillMatch)
	assert.Greater(t, sa.Total, sb.Total)

	best, ok := Select(s.ScoreAll([]*models.Agent{b, a}, decision, "en"))
	require.True(t, ok)
	assert.Equal(t, "a", best.Agent.ID)
}

func TestScorer_Capacity(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	decision := models.RoutingDecision{NeedsHuman: true}

	assert.Equal(t, 0.0, s.Score(agent("full", nil, 1, 3, 3, 10), decision, "en").Capacity)
	assert.Equal(t, 0.0, s.Score(agent("unset", nil, 1, 0, 0, 10), decision, "en").Capacity)
	assert.Equal(t, 1.0, s.Score(agent("idle", nil, 1, 0, 4, 10), decision, "en").Capacity)
	assert.Equal(t, 0.0, s.Score(agent("over", nil, 1, 5, 3, 10), decision, "en").Capacity, "never negative")
}

func TestScorer_ResponseTimeSteps(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	decision := models.RoutingDecision{}

	tests := []struct {
		seconds float64
		want    float64
	}{
		{0, 1.0},
		{30, 1.0},
		{31, 0.8},
		{60, 0.8},
		{120, 0.6},
		{300, 0.4},
		{301, 0.2},
		{5000, 0.2},
	}
	for _, tt := range tests {
		got := s.Score(agent("x", nil, 1, 0, 1, tt.seconds), decision, "en").ResponseTime
		assert.Equal(t, tt.want, got, "seconds=%v", tt.seconds)
	}
}

func TestScorer_LanguageAndNoRequiredSkills(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	a := agent("x", []string{"billing"}, 1, 0, 1, 10)

	got := s.Score(a, models.RoutingDecision{}, "fr")
	assert.Equal(t, 0.0, got.LanguageMatch)
	assert.Equal(t, 0.0, got.SkillMatch)
}

func TestScorer_PerfectAgentTotalsWeightSum(t *testing.T) {
	for _, version := range []string{WeightsCapacityV1, WeightsWorkloadV2} {
		w, _ := WeightPreset(version)
		p := DefaultPolicy()
		p.Weights = w
		s := NewScorer(p)

		a := agent("x", []string{"billing"}, 1, 0, 2, 5)
		got := s.Score(a, models.RoutingDecision{RequiredSkills: []string{"billing"}}, "en")
		assert.InDelta(t, w.Sum(), got.Total, 1e-9, version)
	}
}

func TestScorer_TotalWithinUnitRange(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	r := rand.New(rand.NewSource(42))
	skills := []string{"billing", "technical", "empathy", "sales"}

	for i := 0; i < 500; i++ {
		slots := r.Intn(6)
		a := agent("x", skills[:r.Intn(len(skills)+1)], r.Float64()*1.2, r.Intn(slots+1), slots, r.Float64()*600)
		a.Normalize()
		d := models.RoutingDecision{RequiredSkills: skills[r.Intn(len(skills)):]}

		total := s.Score(a, d, "en").Total
		require.GreaterOrEqual(t, total, 0.0)
		require.LessOrEqual(t, total, 1.0)
	}
}

func scored(id string, total float64, active int, skill float64) models.ScoredAgent {
	return models.ScoredAgent{
		Agent: &models.Agent{
			ID: id,
			Availability: models.Availability{
				Status:             models.StatusOnline,
				CurrentActiveChats: active,
				MaxConcurrentChats: 5,
			},
		},
		Score: models.ScoreBreakdown{Total: total, SkillMatch: skill, Capacity: 1 - float64(active)/5},
	}
}

func TestRank_TieBreaks(t *testing.T) {
	tests := []struct {
		name       string
		candidates []models.ScoredAgent
		want       []string
	}{
		{
			name:       "total first",
			candidates: []models.ScoredAgent{scored("a", 0.5, 0, 1), scored("b", 0.7, 4, 0)},
			want:       []string{"b", "a"},
		},
		{
			name:       "fewer active chats",
			candidates: []models.ScoredAgent{scored("a", 0.7, 3, 1), scored("b", 0.7, 1, 0)},
			want:       []string{"b", "a"},
		},
		{
			name:       "higher skill match",
			candidates: []models.ScoredAgent{scored("a", 0.7, 1, 0.5), scored("b", 0.7, 1, 1)},
			want:       []string{"b", "a"},
		},
		{
			name:       "agent id",
			candidates: []models.ScoredAgent{scored("c", 0.7, 1, 1), scored("a", 0.7, 1, 1), scored("b", 0.7, 1, 1)},
			want:       []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, c := range Rank(tt.candidates) {
				ids = append(ids, c.Agent.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRank_ExcludesUnavailable(t *testing.T) {
	full := scored("full", 0.9, 5, 1)
	offline := scored("offline", 0.9, 0, 1)
	offline.Agent.Availability.Status = models.StatusOffline
	away := scored("away", 0.9, 0, 1)
	away.Agent.Availability.Status = models.StatusAway
	ok := scored("ok", 0.1, 0, 0)

	ranked := Rank([]models.ScoredAgent{full, offline, away, ok})
	require.Len(t, ranked, 1)
	assert.Equal(t, "ok", ranked[0].Agent.ID)

	_, found := Select([]models.ScoredAgent{full, offline})
	assert.False(t, found)

	_, found = Select(nil)
	assert.False(t, found)
}

func TestSelect_Deterministic(t *testing.T) {
	base := []models.ScoredAgent{
		scored("d", 0.6, 2, 1),
		scored("b", 0.8, 1, 0.5),
		scored("a", 0.8, 1, 0.5),
		scored("c", 0.8, 2, 1),
	}
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		shuffled := append([]models.ScoredAgent(nil), base...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		best, ok := Select(shuffled)
		require.True(t, ok)
		assert.Equal(t, "a", best.Agent.ID)
	}
}
