package polar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thumbsmith/gocredits/pkg/billing"
	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

const defaultCurrency = "usd"

// envelope is the outer webhook shape shared by every Polar event.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// rawCustomer is the nested customer object on orders and state events.
type rawCustomer struct {
	ID              string                 `json:"id"`
	ExternalID      string                 `json:"external_id"`
	ExternalIDCamel string                 `json:"externalId"`
	Metadata        map[string]interface{} `json:"metadata"`
}

func (c *rawCustomer) externalID() string {
	if c == nil {
		return ""
	}
	if c.ExternalID != "" {
		return c.ExternalID
	}
	return c.ExternalIDCamel
}

// rawSubscription is one entry of a customer-state subscription list.
type rawSubscription struct {
	ProductID      string  `json:"product_id"`
	ProductIDCamel string  `json:"productId"`
	Status         string  `json:"status"`
	EndedAt        *string `json:"ended_at"`
	EndedAtCamel   *string `json:"endedAt"`
}

func (s *rawSubscription) productID() string {
	if s.ProductID != "" {
		return s.ProductID
	}
	return s.ProductIDCamel
}

func (s *rawSubscription) endedAt() *time.Time {
	raw := s.EndedAt
	if raw == nil {
		raw = s.EndedAtCamel
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		// An unparseable ended_at still means the subscription ended.
		t = time.Time{}
	}
	return &t
}

// rawEventData covers the order and customer-state payload shapes. Polar's
// SDKs spell fields both snake_case and camelCase depending on version, so
// every field the normalizer reads accepts both; this struct is the single
// place that ambiguity is resolved.
type rawEventData struct {
	ID string `json:"id"`

	ProductID      string `json:"product_id"`
	ProductIDCamel string `json:"productId"`

	TotalAmount      *int64 `json:"total_amount"`
	TotalAmountCamel *int64 `json:"totalAmount"`
	AmountTotal      *int64 `json:"amount_total"`
	Amount           *int64 `json:"amount"`

	Currency string `json:"currency"`

	CustomerID      string `json:"customer_id"`
	CustomerIDCamel string `json:"customerId"`

	Metadata         map[string]interface{} `json:"metadata"`
	CustomerMetadata map[string]interface{} `json:"customer_metadata"`
	Customer         *rawCustomer           `json:"customer"`
	ExternalID       string                 `json:"external_id"`

	ActiveSubscriptions      []rawSubscription `json:"active_subscriptions"`
	ActiveSubscriptionsCamel []rawSubscription `json:"activeSubscriptions"`

	CreatedAt string `json:"created_at"`
}

// userID resolves the internal user id by trying, in order: order metadata,
// customer-side metadata, the customer's external id, the customer's own
// metadata, then a top-level external id. First non-empty wins; an empty
// result is not an error (the processor treats it as a no-op event).
func (d *rawEventData) userID() string {
	if id := metadataUserID(d.Metadata); id != "" {
		return id
	}
	if id := metadataUserID(d.CustomerMetadata); id != "" {
		return id
	}
	if id := d.Customer.externalID(); id != "" {
		return id
	}
	if d.Customer != nil {
		if id := metadataUserID(d.Customer.Metadata); id != "" {
			return id
		}
	}
	return d.ExternalID
}

func metadataUserID(md map[string]interface{}) string {
	for _, key := range []string{"userId", "user_id"} {
		if v, ok := md[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (d *rawEventData) productID() string {
	if d.ProductID != "" {
		return d.ProductID
	}
	return d.ProductIDCamel
}

func (d *rawEventData) amount() int64 {
	for _, v := range []*int64{d.TotalAmount, d.TotalAmountCamel, d.AmountTotal, d.Amount} {
		if v != nil {
			return *v
		}
	}
	return 0
}

func (d *rawEventData) currency() string {
	if d.Currency != "" {
		return strings.ToLower(d.Currency)
	}
	return defaultCurrency
}

func (d *rawEventData) customerID() string {
	if d.CustomerID != "" {
		return d.CustomerID
	}
	if d.CustomerIDCamel != "" {
		return d.CustomerIDCamel
	}
	if d.Customer != nil {
		return d.Customer.ID
	}
	return ""
}

func (d *rawEventData) subscriptions() []gocredits.SubscriptionSnapshot {
	raw := d.ActiveSubscriptions
	if len(raw) == 0 {
		raw = d.ActiveSubscriptionsCamel
	}
	subs := make([]gocredits.SubscriptionSnapshot, 0, len(raw))
	for i := range raw {
		s := &raw[i]
		subs = append(subs, gocredits.SubscriptionSnapshot{
			ProductID: s.productID(),
			Status:    gocredits.Status(s.Status),
			EndedAt:   s.endedAt(),
		})
	}
	return subs
}

func (d *rawEventData) occurredAt() time.Time {
	if d.CreatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, d.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func eventType(polarType string) gocredits.EventType {
	switch polarType {
	case "order.paid":
		return gocredits.EventOrderPaid
	case "customer.state_changed":
		return gocredits.EventCustomerStateChanged
	case "order.refunded":
		return gocredits.EventOrderRefunded
	default:
		return gocredits.EventUnknown
	}
}

// parseEnvelope decodes the outer webhook body.
func parseEnvelope(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", billing.ErrInvalidWebhookPayload)
	}
	return &env, nil
}

// normalize maps one Polar event into the canonical PaymentEvent. For
// customer.state_changed the customer may arrive nested under data.customer
// or as the data object itself; both shapes are handled.
func normalize(env *envelope) (*gocredits.PaymentEvent, error) {
	var data rawEventData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
		}
	}

	ev := &gocredits.PaymentEvent{
		Type:       eventType(env.Type),
		UserID:     data.userID(),
		ProductID:  data.productID(),
		CustomerID: data.customerID(),
		Amount:     data.amount(),
		Currency:   data.currency(),
		OccurredAt: data.occurredAt(),
	}

	switch ev.Type {
	case gocredits.EventOrderPaid, gocredits.EventOrderRefunded:
		ev.ID = data.ID
		ev.OrderID = data.ID
	case gocredits.EventCustomerStateChanged:
		ev.ID = data.ID
		ev.Subscriptions = data.subscriptions()
		// The nested customer carries the authoritative ids on state events.
		if data.Customer != nil {
			if id := data.Customer.externalID(); id != "" && ev.UserID == "" {
				ev.UserID = id
			}
			if data.Customer.ID != "" {
				ev.CustomerID = data.Customer.ID
			}
		} else if ev.CustomerID == "" {
			ev.CustomerID = data.ID
		}
	}

	return ev, nil
}
