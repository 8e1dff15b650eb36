package app

import (
	"errors"
	"net/http"

	"github.com/metinatakli/coursehub/api"
)

func (app *Application) GetEntitlementsHandler(w http.ResponseWriter, r *http.Request) {
	entitlements, err := app.billing.Entitlements(r.Context(), app.contextGetUserId(r))
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	resp := api.EntitlementsResponse{Entitlements: toAPIEntitlements(entitlements)}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) GetAffiliateBalanceHandler(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		app.badRequestResponse(w, r, errors.New("currency query parameter is required"))
		return
	}

	balance, err := app.billing.Balance(r.Context(), app.contextGetUserId(r), currency)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.BalanceResponse{
		Currency: balance.Currency,
		Pending:  balance.Pending,
		Paid:     balance.Paid,
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
