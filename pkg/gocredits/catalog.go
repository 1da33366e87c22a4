package gocredits

import "sort"

// PlanFree is the plan users fall back to when no qualifying subscription
// exists. It is implicit in every catalog with priority 0 and no grant.
const PlanFree = "free"

// Product describes one purchasable product: the plan it maps to, the
// credits it awards, and the plan's rank when a customer holds several
// subscriptions at once (higher wins).
type Product struct {
	ID          string
	Plan        string
	CreditGrant int
	Priority    int
}

// Catalog is the immutable product → plan mapping, loaded once at process
// start and passed explicitly to the resolver. Test setups substitute their
// own catalogs the same way.
type Catalog struct {
	byProduct map[string]Product
	byPlan    map[string]Product
}

// NewCatalog builds a catalog from the given products. Later entries win on
// duplicate product ids; for duplicate plan names the highest-priority
// product represents the plan.
func NewCatalog(products ...Product) Catalog {
	c := Catalog{
		byProduct: make(map[string]Product, len(products)),
		byPlan:    make(map[string]Product, len(products)),
	}
	for _, p := range products {
		c.byProduct[p.ID] = p
		if cur, ok := c.byPlan[p.Plan]; !ok || p.Priority > cur.Priority {
			c.byPlan[p.Plan] = p
		}
	}
	return c
}

// Lookup returns the product for a product id.
func (c Catalog) Lookup(productID string) (Product, bool) {
	p, ok := c.byProduct[productID]
	return p, ok
}

// PlanPriority returns the priority rank of a plan name. Unknown plans and
// PlanFree rank 0.
func (c Catalog) PlanPriority(plan string) int {
	if p, ok := c.byPlan[plan]; ok {
		return p.Priority
	}
	return 0
}

// PlanGrant returns the credit grant of the product backing a plan name, or
// 0 for unknown plans and PlanFree.
func (c Catalog) PlanGrant(plan string) int {
	if p, ok := c.byPlan[plan]; ok {
		return p.CreditGrant
	}
	return 0
}

// PlanName returns the plan for a product id, or PlanFree when the product
// is not in the catalog.
func (c Catalog) PlanName(productID string) string {
	if p, ok := c.byProduct[productID]; ok {
		return p.Plan
	}
	return PlanFree
}

// BestSubscription selects the highest-priority active or trialing,
// non-ended subscription from a customer snapshot. The selection is
// deterministic: candidates are ranked by plan priority and, within equal
// priority, the earliest entry in the snapshot wins. ok is false when no
// subscription qualifies.
func (c Catalog) BestSubscription(subs []SubscriptionSnapshot) (SubscriptionSnapshot, bool) {
	candidates := make([]SubscriptionSnapshot, 0, len(subs))
	for _, s := range subs {
		if (s.Status == StatusActive || s.Status == StatusTrialing) && s.EndedAt == nil {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return SubscriptionSnapshot{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi := c.PlanPriority(c.PlanName(candidates[i].ProductID))
		pj := c.PlanPriority(c.PlanName(candidates[j].ProductID))
		return pi > pj
	})

	return candidates[0], true
}
