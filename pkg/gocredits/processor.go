package gocredits

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultStoreTimeout = 10 * time.Second

// Config holds processor configuration.
type Config struct {
	// Storage persists entitlement states and the payment ledger (required).
	Storage Storage

	// Catalog maps product ids to plans and credit grants (required).
	Catalog Catalog

	// Logger receives structured processing logs. Defaults to NoopLogger.
	Logger Logger

	// StoreTimeout bounds every storage operation. An event whose store
	// call exceeds it fails with ErrStoreUnavailable and stays retryable.
	// Default: 10s.
	StoreTimeout time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Processor is the entitlement decision engine. It consumes normalized
// payment events and applies exactly-once transitions to the entitlement
// state, guarded by the ledger's order-id uniqueness. Every inbound webhook
// delivery is an independent unit of work; the processor is safe under
// arbitrary interleavings of events for the same user.
type Processor struct {
	storage  Storage
	resolver *Resolver
	logger   Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewProcessor creates a processor from the given configuration.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		storage:  cfg.Storage,
		resolver: NewResolver(cfg.Catalog),
		logger:   logger,
		timeout:  timeout,
		now:      now,
	}, nil
}

// Resolver returns the processor's resolver.
func (p *Processor) Resolver() *Resolver {
	return p.resolver
}

// Process applies one normalized event. The returned Result always carries
// a typed outcome; business no-ops (duplicates, unresolved users, unknown
// event types) return a nil error so the webhook boundary can acknowledge
// them and stop provider retries. A non-nil error always wraps
// ErrStoreUnavailable, meaning the transition was not durably committed and
// the delivery should be retried.
func (p *Processor) Process(ctx context.Context, ev *PaymentEvent) (*Result, error) {
	if ev == nil {
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	switch ev.Type {
	case EventOrderPaid:
		return p.processOrderPaid(ctx, ev)
	case EventCustomerStateChanged:
		return p.processCustomerState(ctx, ev)
	case EventOrderRefunded:
		return p.processRefund(ctx, ev)
	default:
		p.logger.Debug("ignoring event", Field{"event_type", string(ev.Type)}, Field{"event_id", ev.ID})
		return &Result{Outcome: OutcomeIgnored}, nil
	}
}

func (p *Processor) processOrderPaid(ctx context.Context, ev *PaymentEvent) (*Result, error) {
	if ev.UserID == "" {
		p.logger.Warn("order.paid without resolvable user",
			Field{"event_id", ev.ID}, Field{"order_id", ev.OrderID})
		return &Result{Outcome: OutcomeNoUser}, nil
	}
	if ev.OrderID == "" {
		// Without an order id there is no idempotency key; crediting would
		// double-grant on redelivery.
		p.logger.Warn("order.paid without order id", Field{"event_id", ev.ID}, Field{"user_id", ev.UserID})
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	product, ok := p.resolver.Catalog().Lookup(ev.ProductID)
	if !ok || product.CreditGrant <= 0 {
		p.logger.Warn("order.paid for product without credit grant",
			Field{"event_id", ev.ID}, Field{"product_id", ev.ProductID})
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	// Cheap pre-check. The ledger insert below is the authoritative guard;
	// this only short-circuits the common replay case.
	opCtx, cancel := p.storeCtx(ctx)
	processed, err := p.storage.HasProcessed(opCtx, ev.OrderID)
	cancel()
	if err != nil {
		return nil, p.storeErr("dedup check", ev, err)
	}
	if processed {
		p.logger.Info("duplicate order delivery",
			Field{"order_id", ev.OrderID}, Field{"user_id", ev.UserID})
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	now := p.now().UTC()
	entry := &LedgerEntry{
		OrderID:   ev.OrderID,
		UserID:    ev.UserID,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
		Status:    LedgerPaid,
		CreatedAt: now,
		UpdatedAt: now,
	}

	granted := 0
	opCtx, cancel = p.storeCtx(ctx)
	defer cancel()
	state, err := p.storage.RecordOrder(opCtx, entry, func(s *State) error {
		granted = p.resolver.NextForOrder(s, product, ev.CustomerID, now)
		return nil
	})
	if errors.Is(err, ErrDuplicateOrder) {
		// Lost the race to a concurrent delivery of the same order.
		p.logger.Info("duplicate order delivery",
			Field{"order_id", ev.OrderID}, Field{"user_id", ev.UserID})
		return &Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		return nil, p.storeErr("record order", ev, err)
	}

	p.logger.Info("order applied",
		Field{"user_id", ev.UserID}, Field{"order_id", ev.OrderID},
		Field{"plan", state.Plan}, Field{"granted", granted}, Field{"credits", state.Credits})
	return &Result{Outcome: OutcomeApplied, State: state, Granted: granted}, nil
}

func (p *Processor) processCustomerState(ctx context.Context, ev *PaymentEvent) (*Result, error) {
	if ev.UserID == "" {
		p.logger.Warn("customer.state_changed without resolvable user", Field{"event_id", ev.ID})
		return &Result{Outcome: OutcomeNoUser}, nil
	}

	now := p.now().UTC()
	opCtx, cancel := p.storeCtx(ctx)
	defer cancel()
	state, err := p.storage.UpdateState(opCtx, ev.UserID, func(s *State) error {
		p.resolver.NextForCustomerState(s, ev.Subscriptions, ev.CustomerID, now)
		return nil
	})
	if err != nil {
		return nil, p.storeErr("sync customer state", ev, err)
	}

	p.logger.Info("customer state synced",
		Field{"user_id", ev.UserID}, Field{"plan", state.Plan}, Field{"status", string(state.Status)})
	return &Result{Outcome: OutcomeApplied, State: state}, nil
}

func (p *Processor) processRefund(ctx context.Context, ev *PaymentEvent) (*Result, error) {
	if ev.UserID == "" {
		p.logger.Warn("order.refunded without resolvable user",
			Field{"event_id", ev.ID}, Field{"order_id", ev.OrderID})
		return &Result{Outcome: OutcomeNoUser}, nil
	}

	// The reclaim is derived from the product's catalog grant, never the
	// refund event's own amount. An unknown product reclaims nothing but the
	// downgrade still applies.
	product, _ := p.resolver.Catalog().Lookup(ev.ProductID)

	now := p.now().UTC()
	reclaimed := 0
	ledgerFound := false
	opCtx, cancel := p.storeCtx(ctx)
	defer cancel()
	state, err := p.storage.ApplyRefund(opCtx, ev.OrderID, ev.UserID, func(s *State, found bool) error {
		ledgerFound = found
		reclaimed = p.resolver.NextForRefund(s, product, found, now)
		return nil
	})
	if err != nil {
		return nil, p.storeErr("apply refund", ev, err)
	}

	if !ledgerFound {
		p.logger.Warn("refund for unrecorded order, reclaim skipped",
			Field{"user_id", ev.UserID}, Field{"order_id", ev.OrderID})
	}
	p.logger.Info("refund applied",
		Field{"user_id", ev.UserID}, Field{"order_id", ev.OrderID},
		Field{"reclaimed", reclaimed}, Field{"credits", state.Credits})
	return &Result{Outcome: OutcomeApplied, State: state, Reclaimed: reclaimed}, nil
}

// GetState retrieves a user's entitlement state.
func (p *Processor) GetState(ctx context.Context, userID string) (*State, error) {
	opCtx, cancel := p.storeCtx(ctx)
	defer cancel()
	return p.storage.GetState(opCtx, userID)
}

// GetLedgerEntry retrieves a ledger entry by order id.
func (p *Processor) GetLedgerEntry(ctx context.Context, orderID string) (*LedgerEntry, error) {
	opCtx, cancel := p.storeCtx(ctx)
	defer cancel()
	return p.storage.GetLedgerEntry(opCtx, orderID)
}

// ConsumeCredits atomically deducts amount credits from a user's balance,
// for metered features such as a generation request. Returns
// ErrInsufficientCredits without mutating when the balance is short.
func (p *Processor) ConsumeCredits(ctx context.Context, userID string, amount int) (*State, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	now := p.now().UTC()
	opCtx, cancel := p.storeCtx(ctx)
	defer cancel()
	state, err := p.storage.UpdateState(opCtx, userID, func(s *State) error {
		if s.Credits < amount {
			return ErrInsufficientCredits
		}
		s.Credits -= amount
		s.UpdatedAt = now
		return nil
	})
	if errors.Is(err, ErrInsufficientCredits) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: consume credits: %v", ErrStoreUnavailable, err)
	}
	return state, nil
}

func (p *Processor) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Processor) storeErr(op string, ev *PaymentEvent, err error) error {
	p.logger.Error("storage failure",
		Field{"op", op}, Field{"event_type", string(ev.Type)},
		Field{"user_id", ev.UserID}, Field{"order_id", ev.OrderID}, Field{"error", err.Error()})
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
