package types

type PlanType string

const (
	PlanTypeIndividual PlanType = "individual"
	PlanTypeGroup      PlanType = "group"
)

// Plan is one purchasable subscription option.
type Plan struct {
	Type           PlanType `json:"type" mapstructure:"type"`
	DurationMonths int      `json:"duration_months" mapstructure:"duration_months"`
	Price          int      `json:"price" mapstructure:"price"` // whole som
	Name           string   `json:"name" mapstructure:"name"`
}

func (p *Plan) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.Type)
}
