package polar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thumbsmith/gocredits/pkg/billing"
	"github.com/thumbsmith/gocredits/pkg/billing/internal"
	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

type webhookResponse struct {
	Success bool `json:"success"`
}

// handleWebhook processes one inbound Polar webhook delivery.
//
// Response policy: 200 {"success":true} for every disposition that must
// suppress provider retries, including business no-ops (duplicate order,
// unresolved user, unknown event type); 401 on signature failure (unless
// AllowUnverified); 400 on unparseable payload; 500 when the transition was
// not durably committed, so Polar redelivers.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.verifier == nil {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	verified := true
	err = p.verifier.verify(
		r.Header.Get(headerWebhookID),
		r.Header.Get(headerWebhookTimestamp),
		r.Header.Get(headerWebhookSignature),
		body, time.Now(),
	)
	if err != nil {
		if !p.allowUnverified {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			p.metrics.RecordWebhookError(providerName, "auth_failed")
			return
		}
		// Compatibility mode: the event is processed but flagged for audit.
		verified = false
		p.logger.Warn("accepting unverified webhook delivery",
			gocredits.Field{Key: "webhook_id", Value: r.Header.Get(headerWebhookID)},
			gocredits.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "unverified_accepted")
	}

	env, err := parseEnvelope(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	ev, err := normalize(env)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}
	ev.Verified = verified

	previousPlan := p.currentPlan(r.Context(), ev.UserID)

	result, err := p.processor.Process(r.Context(), ev)
	if err != nil {
		// Not durably committed; Polar should retry the delivery.
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, env.Type, "error")
		p.metrics.RecordWebhookError(providerName, "store_failure")
		p.metrics.RecordWebhookProcessingDuration(providerName, env.Type, time.Since(startTime))
		return
	}

	if result.State != nil && result.State.Plan != previousPlan {
		p.metrics.RecordPlanChange(providerName, previousPlan, result.State.Plan)
	}

	if p.callback != nil {
		if err := p.invokeCallback(r.Context(), env.Type, ev, result); err != nil {
			http.Error(w, "failed to process webhook", http.StatusInternalServerError)
			p.metrics.RecordWebhookEvent(providerName, env.Type, "error")
			p.metrics.RecordWebhookError(providerName, "callback_failure")
			p.metrics.RecordWebhookProcessingDuration(providerName, env.Type, time.Since(startTime))
			return
		}
	}

	_ = internal.WriteJSON(w, http.StatusOK, webhookResponse{Success: true})

	p.metrics.RecordWebhookEvent(providerName, env.Type, string(result.Outcome))
	p.metrics.RecordWebhookProcessingDuration(providerName, env.Type, time.Since(startTime))
}

func (p *Provider) invokeCallback(ctx context.Context, polarType string, ev *gocredits.PaymentEvent, result *gocredits.Result) error {
	event := billing.WebhookEvent{
		Provider:         providerName,
		EventType:        polarType,
		UserID:           ev.UserID,
		OrderID:          ev.OrderID,
		Outcome:          result.Outcome,
		GrantedCredits:   result.Granted,
		ReclaimedCredits: result.Reclaimed,
		Verified:         ev.Verified,
		OccurredAt:       ev.OccurredAt,
	}
	if result.State != nil {
		event.Plan = result.State.Plan
	}
	return p.callback(ctx, event)
}

// currentPlan reads the user's plan before processing, for the plan-change
// metric. Failures degrade to the free plan rather than blocking the event.
func (p *Provider) currentPlan(ctx context.Context, userID string) string {
	if userID == "" {
		return gocredits.PlanFree
	}
	state, err := p.processor.GetState(ctx, userID)
	if err != nil || state == nil {
		return gocredits.PlanFree
	}
	return state.Plan
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
