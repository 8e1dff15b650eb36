package app

import (
	"errors"
	"net/http"

	"github.com/metinatakli/coursehub/api"
	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/domain"
)

// SyncSubscriptionHandler forces a re-fetch of one subscription from the
// processor, for operators repairing a subscription whose events were lost.
func (app *Application) SyncSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var input api.SyncSubscriptionRequest

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	outcome, err := app.billing.SyncSubscription(r.Context(), input.SubscriptionId)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindUnknownTransaction:
			app.notFoundResponse(w, r)
			return
		case domain.KindAlreadySettled, domain.KindStoreConflict:
			outcome = billing.OutcomeAlreadySettled
		default:
			app.domainErrorResponse(w, r, err)
			return
		}
	}

	err = app.writeJSON(w, http.StatusOK, api.OutcomeResponse{Outcome: string(outcome)}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	referrerId, err := app.readIntParam(r, "referrerId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	payout, err := app.billing.Payout(r.Context(), referrerId)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.PayoutResponse{
		ReferrerId: payout.ReferrerID,
		Entries:    payout.Entries,
		Amounts:    payout.Amounts,
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) GetRevenueHandler(w http.ResponseWriter, r *http.Request) {
	ownerId, err := app.readIntParam(r, "ownerId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	query := r.URL.Query()

	currency := query.Get("currency")
	if currency == "" {
		app.badRequestResponse(w, r, errors.New("currency query parameter is required"))
		return
	}

	agg, err := app.billing.Revenue(r.Context(), ownerId, currency, query.Get("bucket"))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.RevenueResponse{
		OwnerId:  agg.OwnerID,
		Currency: agg.Currency,
		Bucket:   agg.Bucket,
		Gross:    agg.Gross,
		Refunded: agg.Refunded,
		Net:      agg.Net,
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) RebuildRevenueHandler(w http.ResponseWriter, r *http.Request) {
	ownerId, err := app.readIntParam(r, "ownerId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.billing.RebuildRevenue(r.Context(), ownerId)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
