package approval

import (
	"context"
	"testing"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rosterOf(actionType string, ids ...string) *memRoster {
	rows := make([]domain.ApproverConfiguration, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, domain.ApproverConfiguration{ActionType: actionType, UserID: id, Active: true})
	}
	return &memRoster{roster: map[string][]domain.ApproverConfiguration{actionType: rows}}
}

func TestResolve_SimpleQuorumClamping(t *testing.T) {
	tests := []struct {
		name         string
		minApprovers int
		rosterSize   int
		wantQuorum   int
	}{
		{"порог в пределах ростера", 2, 3, 2},
		{"порог больше ростера зажимается", 5, 3, 3},
		{"нулевой порог поднимается до единицы", 0, 2, 1},
		{"отрицательный порог поднимается до единицы", -1, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, tt.rosterSize)
			for i := range ids {
				ids[i] = string(rune('a' + i))
			}
			resolver := NewResolver(rosterOf("act", ids...), &memDirectory{}, zap.NewNop())

			res, err := resolver.Resolve(context.Background(), &domain.ActionConfiguration{
				ActionType: "act", Strategy: domain.StrategySimple, MinApprovers: tt.minApprovers,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuorum, res.Quorum)
			assert.Len(t, res.Approvers, tt.rosterSize)
		})
	}
}

func TestResolve_SimpleDeduplicatesAndSkipsInactive(t *testing.T) {
	roster := &memRoster{roster: map[string][]domain.ApproverConfiguration{
		"act": {
			{ActionType: "act", UserID: "ana", Active: true},
			{ActionType: "act", UserID: "ana", Active: true},  // Дубликат
			{ActionType: "act", UserID: "bruno", Active: false}, // Снят с ростера
			{ActionType: "act", UserID: "carla", Active: true},
		},
	}}
	resolver := NewResolver(roster, &memDirectory{}, zap.NewNop())

	res, err := resolver.Resolve(context.Background(), &domain.ActionConfiguration{
		ActionType: "act", Strategy: domain.StrategySimple, MinApprovers: 1,
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ana", "carla"}, res.Approvers)
}

func TestResolve_MajorityQuorum(t *testing.T) {
	tests := []struct {
		rosterSize int
		wantQuorum int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
	}

	for _, tt := range tests {
		ids := make([]string, tt.rosterSize)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		resolver := NewResolver(rosterOf("act", ids...), &memDirectory{}, zap.NewNop())

		res, err := resolver.Resolve(context.Background(), &domain.ActionConfiguration{
			ActionType: "act", Strategy: domain.StrategyMajority,
		}, nil)
		require.NoError(t, err)
		// Кворум «больше половины» фиксируется от размера ростера
		assert.Equal(t, tt.wantQuorum, res.Quorum, "roster size %d", tt.rosterSize)
		assert.Equal(t, domain.StrategyMajority, res.Strategy)
	}
}

func TestResolve_SectorEscalation(t *testing.T) {
	dir := &memDirectory{users: map[string]*domain.User{
		"chefe":   {ID: "chefe", Sector: "FINANCEIRO", Status: domain.UserActive},
		"analista": {ID: "analista", Sector: "FINANCEIRO", Status: domain.UserActive},
		"externo": {ID: "externo", Sector: "JURIDICO", Status: domain.UserActive},
	}}
	resolver := &Resolver{
		roster:    rosterOf("act"),
		directory: sectorDirectory{dir, []string{"chefe"}},
		logger:    zap.NewNop(),
	}

	res, err := resolver.Resolve(context.Background(), &domain.ActionConfiguration{
		ActionType: "act",
		Strategy:   domain.StrategySectorEscalation,
		Sector:     "FINANCEIRO",
		Permission: "aprovacao.financeira",
	}, nil)
	require.NoError(t, err)

	// Только пересечение: в секторе И с permission
	assert.Equal(t, []string{"chefe"}, res.Approvers)
	assert.Equal(t, domain.StrategySectorEscalation, res.Strategy)
	assert.False(t, res.FellBack)
}

// sectorDirectory добавляет к memDirectory держателей permission
type sectorDirectory struct {
	*memDirectory
	holders []string
}

func (d sectorDirectory) FindUsersByPermission(ctx context.Context, permissions []string) ([]domain.User, error) {
	out := make([]domain.User, 0, len(d.holders))
	for _, id := range d.holders {
		if u, ok := d.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func TestResolve_SectorEscalationFallbacks(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.ActionConfiguration
	}{
		{"нет сектора", domain.ActionConfiguration{ActionType: "act", Strategy: domain.StrategySectorEscalation, Permission: "p"}},
		{"нет permission", domain.ActionConfiguration{ActionType: "act", Strategy: domain.StrategySectorEscalation, Sector: "S"}},
		{"пустое пересечение", domain.ActionConfiguration{ActionType: "act", Strategy: domain.StrategySectorEscalation, Sector: "VAZIO", Permission: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(rosterOf("act", "ana"), &memDirectory{users: map[string]*domain.User{}}, zap.NewNop())

			cfg := tt.cfg
			cfg.MinApprovers = 1
			res, err := resolver.Resolve(context.Background(), &cfg, nil)
			require.NoError(t, err)

			// Любая неполнота конфигурации — деградация до SIMPLE, не отказ
			assert.Equal(t, domain.StrategySimple, res.Strategy)
			assert.True(t, res.FellBack)
			assert.Equal(t, []string{"ana"}, res.Approvers)
		})
	}
}

func TestResolve_SelfApproval(t *testing.T) {
	resolver := NewResolver(rosterOf("act", "ana"), &memDirectory{}, zap.NewNop())
	requester := &domain.User{ID: "gestor-1", Profile: "gestor", Status: domain.UserActive}

	res, err := resolver.Resolve(context.Background(), &domain.ActionConfiguration{
		ActionType:           "act",
		Strategy:             domain.StrategySelfApproval,
		SelfApprovalProfiles: []string{"GESTOR"},
	}, requester)
	require.NoError(t, err)

	assert.True(t, res.AutoDecide)
	assert.Equal(t, []string{"gestor-1"}, res.Approvers)
	assert.Equal(t, 1, res.Quorum)
}

func TestResolve_SelfApprovalNilRequester(t *testing.T) {
	resolver := NewResolver(rosterOf("act", "ana"), &memDirectory{}, zap.NewNop())

	// Справочник был недоступен: профиль проверить нечем, деградация
	res, err := resolver.Resolve(context.Background(), &domain.ActionConfiguration{
		ActionType:           "act",
		Strategy:             domain.StrategySelfApproval,
		SelfApprovalProfiles: []string{"GESTOR"},
		MinApprovers:         1,
	}, nil)
	require.NoError(t, err)

	assert.False(t, res.AutoDecide)
	assert.Equal(t, domain.StrategySimple, res.Strategy)
	assert.True(t, res.FellBack)
}
