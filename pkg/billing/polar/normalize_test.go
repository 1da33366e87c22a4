package polar

import (
	"encoding/json"
	"testing"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

func mustNormalize(t *testing.T, payload string) *gocredits.PaymentEvent {
	t.Helper()
	env, err := parseEnvelope([]byte(payload))
	if err != nil {
		t.Fatalf("parseEnvelope failed: %v", err)
	}
	ev, err := normalize(env)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	return ev
}

func TestNormalize_OrderPaid(t *testing.T) {
	ev := mustNormalize(t, `{
		"type": "order.paid",
		"data": {
			"id": "ord_123",
			"product_id": "prod_abc",
			"total_amount": 2000,
			"currency": "USD",
			"customer_id": "cus_9",
			"metadata": {"userId": "user-1"},
			"created_at": "2026-08-01T10:00:00Z"
		}
	}`)

	if ev.Type != gocredits.EventOrderPaid {
		t.Errorf("Type = %q, want order.paid", ev.Type)
	}
	if ev.OrderID != "ord_123" {
		t.Errorf("OrderID = %q, want ord_123", ev.OrderID)
	}
	if ev.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", ev.UserID)
	}
	if ev.ProductID != "prod_abc" {
		t.Errorf("ProductID = %q, want prod_abc", ev.ProductID)
	}
	if ev.Amount != 2000 {
		t.Errorf("Amount = %d, want 2000", ev.Amount)
	}
	if ev.Currency != "usd" {
		t.Errorf("Currency = %q, want usd (lowercased)", ev.Currency)
	}
	if ev.CustomerID != "cus_9" {
		t.Errorf("CustomerID = %q, want cus_9", ev.CustomerID)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("OccurredAt should be parsed from created_at")
	}
}

func TestNormalize_UserIDResolutionChain(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{
			name: "order metadata wins",
			data: `{"metadata":{"userId":"from-metadata"},"customer":{"external_id":"from-customer"}}`,
			want: "from-metadata",
		},
		{
			name: "snake_case metadata key",
			data: `{"metadata":{"user_id":"from-snake"}}`,
			want: "from-snake",
		},
		{
			name: "customer_metadata second",
			data: `{"customer_metadata":{"userId":"from-cust-meta"},"customer":{"external_id":"from-customer"}}`,
			want: "from-cust-meta",
		},
		{
			name: "customer external_id third",
			data: `{"customer":{"external_id":"from-customer"}}`,
			want: "from-customer",
		},
		{
			name: "camelCase externalId",
			data: `{"customer":{"externalId":"from-camel"}}`,
			want: "from-camel",
		},
		{
			name: "customer metadata fourth",
			data: `{"customer":{"metadata":{"userId":"from-cust-obj-meta"}}}`,
			want: "from-cust-obj-meta",
		},
		{
			name: "top-level external_id last",
			data: `{"external_id":"from-top"}`,
			want: "from-top",
		},
		{
			name: "non-string metadata value skipped",
			data: `{"metadata":{"userId":42},"external_id":"fallback"}`,
			want: "fallback",
		},
		{
			name: "nothing resolvable",
			data: `{"id":"ord_1"}`,
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := mustNormalize(t, `{"type":"order.paid","data":`+tc.data+`}`)
			if ev.UserID != tc.want {
				t.Errorf("UserID = %q, want %q", ev.UserID, tc.want)
			}
		})
	}
}

func TestNormalize_AmountFallbacks(t *testing.T) {
	cases := []struct {
		name string
		data string
		want int64
	}{
		{"total_amount", `{"total_amount":100,"amount":999}`, 100},
		{"totalAmount camel", `{"totalAmount":200,"amount":999}`, 200},
		{"amount_total", `{"amount_total":300,"amount":999}`, 300},
		{"amount last", `{"amount":400}`, 400},
		{"zero total_amount still wins", `{"total_amount":0,"amount":999}`, 0},
		{"nothing", `{}`, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := mustNormalize(t, `{"type":"order.paid","data":`+tc.data+`}`)
			if ev.Amount != tc.want {
				t.Errorf("Amount = %d, want %d", ev.Amount, tc.want)
			}
		})
	}
}

func TestNormalize_CurrencyDefault(t *testing.T) {
	ev := mustNormalize(t, `{"type":"order.paid","data":{}}`)
	if ev.Currency != "usd" {
		t.Errorf("Currency = %q, want default usd", ev.Currency)
	}
}

func TestNormalize_CamelCaseProductID(t *testing.T) {
	ev := mustNormalize(t, `{"type":"order.paid","data":{"productId":"prod_camel"}}`)
	if ev.ProductID != "prod_camel" {
		t.Errorf("ProductID = %q, want prod_camel", ev.ProductID)
	}
}

func TestNormalize_CustomerStateChanged(t *testing.T) {
	ev := mustNormalize(t, `{
		"type": "customer.state_changed",
		"data": {
			"id": "cus_77",
			"external_id": "user-9",
			"active_subscriptions": [
				{"product_id": "prod_pro", "status": "active"},
				{"product_id": "prod_old", "status": "active", "ended_at": "2026-01-01T00:00:00Z"}
			]
		}
	}`)

	if ev.Type != gocredits.EventCustomerStateChanged {
		t.Fatalf("Type = %q, want customer.state_changed", ev.Type)
	}
	if ev.UserID != "user-9" {
		t.Errorf("UserID = %q, want user-9", ev.UserID)
	}
	if ev.CustomerID != "cus_77" {
		t.Errorf("CustomerID = %q, want cus_77", ev.CustomerID)
	}
	if len(ev.Subscriptions) != 2 {
		t.Fatalf("Subscriptions = %d, want 2", len(ev.Subscriptions))
	}
	if ev.Subscriptions[0].ProductID != "prod_pro" || ev.Subscriptions[0].EndedAt != nil {
		t.Errorf("first subscription = %+v, want live prod_pro", ev.Subscriptions[0])
	}
	if ev.Subscriptions[1].EndedAt == nil {
		t.Error("second subscription should carry its ended_at")
	}
}

func TestNormalize_CustomerStateNestedCustomer(t *testing.T) {
	ev := mustNormalize(t, `{
		"type": "customer.state_changed",
		"data": {
			"id": "evt_1",
			"customer": {"id": "cus_5", "external_id": "user-5"},
			"activeSubscriptions": [{"productId": "prod_pro", "status": "trialing"}]
		}
	}`)

	if ev.UserID != "user-5" {
		t.Errorf("UserID = %q, want user-5 from nested customer", ev.UserID)
	}
	if ev.CustomerID != "cus_5" {
		t.Errorf("CustomerID = %q, want cus_5 from nested customer", ev.CustomerID)
	}
	if len(ev.Subscriptions) != 1 || ev.Subscriptions[0].ProductID != "prod_pro" {
		t.Errorf("Subscriptions = %+v, want camelCase list parsed", ev.Subscriptions)
	}
	if ev.Subscriptions[0].Status != gocredits.StatusTrialing {
		t.Errorf("Status = %q, want trialing", ev.Subscriptions[0].Status)
	}
}

func TestNormalize_UnknownType(t *testing.T) {
	ev := mustNormalize(t, `{"type":"benefit.granted","data":{"id":"x"}}`)
	if ev.Type != gocredits.EventUnknown {
		t.Errorf("Type = %q, want unknown", ev.Type)
	}
}

func TestParseEnvelope_Invalid(t *testing.T) {
	if _, err := parseEnvelope([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
	if _, err := parseEnvelope([]byte(`{"data":{}}`)); err == nil {
		t.Error("Expected error for missing type")
	}
}

func TestNormalize_BadDataShape(t *testing.T) {
	env := &envelope{Type: "order.paid", Data: json.RawMessage(`["not","an","object"]`)}
	if _, err := normalize(env); err == nil {
		t.Error("Expected error for non-object data")
	}
}

func TestRawSubscription_UnparseableEndedAt(t *testing.T) {
	s := rawSubscription{EndedAt: strPtr("garbage")}
	if s.endedAt() == nil {
		t.Error("Unparseable ended_at must still mark the subscription ended")
	}

	s = rawSubscription{EndedAt: strPtr("  ")}
	if s.endedAt() != nil {
		t.Error("Blank ended_at means not ended")
	}
}

func strPtr(s string) *string { return &s }
