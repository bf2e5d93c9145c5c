package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/types"
)

func TestCheckPlans(t *testing.T) {
	plan := func(pt types.PlanType, months, price int) *types.Plan {
		return &types.Plan{Type: pt, DurationMonths: months, Price: price}
	}
	cases := []struct {
		name  string
		plans []*types.Plan
		ok    bool
	}{
		{"valid", []*types.Plan{plan(types.PlanTypeIndividual, 1, 1000), plan(types.PlanTypeGroup, 3, 2400)}, true},
		{"empty", nil, false},
		{"unknown type", []*types.Plan{plan("family", 1, 1000)}, false},
		{"zero price", []*types.Plan{plan(types.PlanTypeIndividual, 1, 0)}, false},
		{"zero months", []*types.Plan{plan(types.PlanTypeIndividual, 0, 1000)}, false},
		{"duplicate", []*types.Plan{plan(types.PlanTypeGroup, 3, 2400), plan(types.PlanTypeGroup, 3, 2000)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := logPlans(&config.Config{Plans: tc.plans}, zap.NewNop().Sugar())
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
