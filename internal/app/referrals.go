package app

import (
	"net/http"

	"github.com/metinatakli/coursehub/api"
)

// CreateReferralHandler records that the current user followed a referral
// link for an item. A later checkout of any item by the same owner is
// attributed to the referrer while the window lasts.
func (app *Application) CreateReferralHandler(w http.ResponseWriter, r *http.Request) {
	var input api.CreateReferralRequest

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

	referral, err := app.billing.CaptureReferral(r.Context(), app.contextGetUserId(r), input.Code, toDomainItemRef(input.Item))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.ReferralResponse{
		Code:       referral.Attribution.Code,
		ReferrerId: referral.Attribution.ReferrerID,
		OwnerId:    referral.Attribution.OwnerID,
		Rate:       referral.Attribution.Rate.String(),
		ExpiresAt:  referral.ExpiresAt,
	}

	err = app.writeJSON(w, http.StatusCreated, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
