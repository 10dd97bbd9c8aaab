// Package quota implements the monthly usage ledger, manual top-ups and the
// admission gate that meters outbound sends against plan allowances.
package quota

import "fmt"

// Unlimited is the sentinel plan limit for plans without a monthly allowance.
const Unlimited = -1

// Plan is a tenant's resolved subscription plan.
type Plan struct {
	Name  string
	Limit int // monthly conversation allowance; Unlimited disables metering
}

// PlanResolver resolves the plan for a tenant. Plan persistence lives outside
// this core; implementations typically wrap a billing service.
type PlanResolver interface {
	Resolve(tenantID string) (Plan, error)
}

// StaticResolver resolves plans from in-memory assignment and limit tables.
// Tenants without an assignment fall back to DefaultPlan.
type StaticResolver struct {
	Limits      map[string]int    // plan name -> monthly limit
	Assignments map[string]string // tenant id -> plan name
	DefaultPlan string
}

// NewStaticResolver creates a StaticResolver with the given plan limits,
// defaulting unassigned tenants to defaultPlan.
func NewStaticResolver(limits map[string]int, defaultPlan string) *StaticResolver {
	return &StaticResolver{
		Limits:      limits,
		Assignments: make(map[string]string),
		DefaultPlan: defaultPlan,
	}
}

// Assign maps a tenant to a plan name.
func (r *StaticResolver) Assign(tenantID, plan string) {
	r.Assignments[tenantID] = plan
}

// Resolve implements PlanResolver.
func (r *StaticResolver) Resolve(tenantID string) (Plan, error) {
	name, ok := r.Assignments[tenantID]
	if !ok {
		name = r.DefaultPlan
	}
	limit, ok := r.Limits[name]
	if !ok {
		return Plan{}, fmt.Errorf("quota: unknown plan %q for tenant %s", name, tenantID)
	}
	return Plan{Name: name, Limit: limit}, nil
}
