package subscription

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/types"
)

// checkPlans refuses to start with a plan table that cannot be sold.
func checkPlans(cfg *config.Config) error {
	if len(cfg.Plans) == 0 {
		return fmt.Errorf("no subscription plans configured")
	}
	seen := make(map[string]bool, len(cfg.Plans))
	for _, p := range cfg.Plans {
		if p.Type != types.PlanTypeIndividual && p.Type != types.PlanTypeGroup {
			return fmt.Errorf("plan %q: unknown type", p.Type)
		}
		if p.DurationMonths <= 0 || p.Price <= 0 {
			return fmt.Errorf("plan %s/%d: duration and price must be positive", p.Type, p.DurationMonths)
		}
		key := fmt.Sprintf("%s/%d", p.Type, p.DurationMonths)
		if seen[key] {
			return fmt.Errorf("plan %s: duplicate", key)
		}
		seen[key] = true
	}
	return nil
}

func logPlans(cfg *config.Config, log *zap.SugaredLogger) error {
	if err := checkPlans(cfg); err != nil {
		return err
	}
	log.Infow("subscription plans loaded", "count", len(cfg.Plans))
	return nil
}

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(logPlans),
)
