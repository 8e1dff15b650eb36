package app

import (
	"net/http"

	"github.com/metinatakli/coursehub/api"
	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/domain"
)

func (app *Application) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	var input api.CreateCheckoutSessionRequest

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

	checkout := billing.CheckoutInput{
		UserID: app.contextGetUserId(r),
		Item:   toDomainItemRef(input.Item),
	}

	if input.AffiliateCode != nil {
		checkout.AffiliateCode = *input.AffiliateCode
	}

	if input.Currency != nil {
		checkout.Currency = *input.Currency
	}

	result, err := app.billing.StartCheckout(r.Context(), checkout)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.CheckoutSessionResponse{
		AttemptId:   result.AttemptID,
		RedirectUrl: result.RedirectURL,
		ExpiresAt:   result.ExpiresAt,
	}

	err = app.writeJSON(w, http.StatusCreated, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// VerifyCheckoutHandler is called by the client after it returns from the
// hosted payment page. It reconciles the session the same way a webhook does.
func (app *Application) VerifyCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var input api.VerifyCheckoutRequest

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

	result, err := app.billing.Verify(r.Context(), app.contextGetUserId(r), input.SessionId)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.VerifyCheckoutResponse{
		AttemptId:    result.Payment.ID,
		Status:       api.PaymentStatus(result.Payment.Status),
		Entitlements: toAPIEntitlements(result.Entitlements),
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func toDomainItemRef(ref api.ItemRef) domain.ItemRef {
	return domain.ItemRef{Kind: domain.ItemKind(ref.Kind), ID: ref.Id}
}

func toAPIItemRef(ref domain.ItemRef) api.ItemRef {
	return api.ItemRef{Kind: api.ItemKind(ref.Kind), Id: ref.ID}
}

func toAPIEntitlements(entitlements []domain.Entitlement) []api.Entitlement {
	out := make([]api.Entitlement, 0, len(entitlements))

	for _, e := range entitlements {
		out = append(out, api.Entitlement{
			Item:      toAPIItemRef(e.Item),
			Tier:      e.Tier,
			GrantedAt: e.GrantedAt,
		})
	}

	return out
}
