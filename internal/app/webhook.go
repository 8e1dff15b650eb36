package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/metinatakli/coursehub/api"
	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/domain"
)

const maxWebhookBytes = 65536

func webhookEventKey(eventId string) string {
	return fmt.Sprintf("webhook_event:%s", eventId)
}

// StripeWebhookHandler acknowledges every event that was handled or is a
// no-op, including duplicates and unknown transactions. Only signature and
// parse failures get a 4xx, and only transient failures get a 5xx so the
// processor redelivers.
func (app *Application) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		app.badRequestResponse(w, r, errors.New("failed to read request body"))
		return
	}

	event, err := app.processor.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		app.contextGetLogger(r).Warn("rejected webhook", "error", err)
		app.errorResponse(w, r, http.StatusBadRequest, domain.KindOf(err), err.Error())
		return
	}

	logger := app.contextGetLogger(r).With("event_id", event.ID, "event_type", event.RawType)

	key := webhookEventKey(event.ID)

	seen, err := app.redis.Exists(r.Context(), key).Result()
	if err != nil {
		// The ledger transitions are idempotent on their own, so a cache
		// outage only costs a redundant pass.
		logger.Warn("webhook dedupe lookup failed", "error", err)
	}

	if seen > 0 {
		logger.Info("webhook event already processed")
		app.writeWebhookResponse(w, r, billing.OutcomeAlreadySettled)
		return
	}

	outcome, err := app.billing.HandleEvent(r.Context(), event)
	if err != nil {
		outcome = billing.OutcomeOf(err)

		switch domain.KindOf(err) {
		case domain.KindAlreadySettled, domain.KindStoreConflict, domain.KindUnknownTransaction:
			logger.Info("webhook event was a no-op", "outcome", outcome, "reason", err.Error())
		case domain.KindConflict, domain.KindValidation, domain.KindNotFound:
			logger.Warn("webhook event dropped", "outcome", outcome, "reason", err.Error())
		default:
			app.serverErrorResponse(w, r, err)
			return
		}
	}

	err = app.redis.Set(r.Context(), key, string(outcome), app.config.Billing.WebhookDedupeTTL).Err()
	if err != nil {
		logger.Warn("failed to remember webhook event", "error", err)
	}

	logger.Info("webhook event handled", "outcome", outcome)

	app.writeWebhookResponse(w, r, outcome)
}

func (app *Application) writeWebhookResponse(w http.ResponseWriter, r *http.Request, outcome billing.Outcome) {
	err := app.writeJSON(w, http.StatusOK, api.WebhookResponse{Received: true, Outcome: string(outcome)}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
