package gocredits

import "time"

// Resolver computes entitlement transitions. It is pure: every method maps
// (current state, event data) to the next state without touching storage,
// so replaying the same input always yields the same output.
type Resolver struct {
	catalog Catalog
}

// NewResolver creates a resolver over an immutable plan catalog.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Catalog returns the resolver's plan catalog.
func (r *Resolver) Catalog() Catalog {
	return r.catalog
}

// GrantForOrder returns the credits a paid order awards given the user's
// plan before the order. Moving to a strictly higher-priority paid plan in
// the same cycle grants only the difference between the two plans' grants
// ("pay the delta" proration); every other purchase grants the product's
// full amount.
func (r *Resolver) GrantForOrder(currentPlan string, product Product) int {
	grant := product.CreditGrant

	curPriority := r.catalog.PlanPriority(currentPlan)
	curGrant := r.catalog.PlanGrant(currentPlan)
	if curGrant > 0 && product.Priority > curPriority {
		grant = product.CreditGrant - curGrant
		if grant < 0 {
			grant = 0
		}
	}

	return grant
}

// NextForOrder applies a paid order to the state in place and returns the
// granted amount. The plan switches to the purchased plan immediately (no
// waiting for a customer-state resync) and the status becomes active. The
// billing customer id is recorded if known and not already set.
func (r *Resolver) NextForOrder(s *State, product Product, customerID string, now time.Time) int {
	granted := r.GrantForOrder(s.Plan, product)

	if s.Credits < 0 {
		s.Credits = 0
	}
	s.Credits += granted
	s.Plan = product.Plan
	s.Status = StatusActive
	if s.CustomerID == "" && customerID != "" {
		s.CustomerID = customerID
	}
	s.UpdatedAt = now
	return granted
}

// NextForCustomerState applies a customer-state snapshot: the plan and
// status follow the highest-priority live subscription, or fall back to
// free/inactive when none qualifies. Credits are never touched; the
// transition is deterministic in the snapshot alone and safe to replay in
// any order relative to other snapshots.
func (r *Resolver) NextForCustomerState(s *State, subs []SubscriptionSnapshot, customerID string, now time.Time) {
	if best, ok := r.catalog.BestSubscription(subs); ok {
		s.Plan = r.catalog.PlanName(best.ProductID)
		s.Status = best.Status
	} else {
		s.Plan = PlanFree
		s.Status = StatusInactive
	}
	if customerID != "" {
		s.CustomerID = customerID
	}
	s.UpdatedAt = now
}

// NextForRefund applies a refund and returns the reclaimed amount. The
// reclaim is the refunded product's catalog grant, not the refund event's
// own amount, clamped so the balance never goes negative, and is skipped
// entirely when no paid ledger entry exists (ledgerFound false). The
// downgrade to free/inactive always applies, even when the user holds other
// live subscriptions; the next customer-state resync restores those.
func (r *Resolver) NextForRefund(s *State, product Product, ledgerFound bool, now time.Time) int {
	reclaimed := 0
	if ledgerFound {
		reclaimed = product.CreditGrant
		if reclaimed > s.Credits {
			reclaimed = s.Credits
		}
		if reclaimed < 0 {
			reclaimed = 0
		}
		s.Credits -= reclaimed
	}

	s.Plan = PlanFree
	s.Status = StatusInactive
	s.UpdatedAt = now
	return reclaimed
}
