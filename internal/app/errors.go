package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/coursehub/api"
	"github.com/metinatakli/coursehub/internal/domain"
	appvalidator "github.com/metinatakli/coursehub/internal/validator"
)

const (
	ErrInternalServer       = "The server encountered a problem and could not process your request"
	ErrNotFound             = "The requested resource not found"
	ErrUnauthorized         = "You must be authenticated to access this resource"
	ErrFailedValidation     = "One or more fields are invalid"
	ErrProcessorUnavailable = "The payment processor is unavailable, please try again later"
)

func (app *Application) logError(r *http.Request, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.contextGetLogger(r).Error(err.Error(), "method", method, "uri", uri)
}

// The errorResponse() method is a generic helper for sending JSON-formatted error
// messages to the client with a given status code.
func (app *Application) errorResponse(w http.ResponseWriter, r *http.Request, status int, kind domain.Kind, message string) {
	resp := api.ErrorResponse{
		Kind:      string(kind),
		Message:   message,
		RequestId: middleware.GetReqID(r.Context()),
		Timestamp: time.Now(),
	}

	err := app.writeJSON(w, status, resp, nil)
	if err != nil {
		app.logError(r, err)
		w.WriteHeader(500)
	}
}

func (app *Application) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logError(r, err)

	app.errorResponse(w, r, http.StatusInternalServerError, domain.KindInternal, ErrInternalServer)
}

func (app *Application) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusNotFound, domain.KindNotFound, ErrNotFound)
}

func (app *Application) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusMethodNotAllowed, domain.KindValidation, "The requested method is not supported for this resource")
}

func (app *Application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusBadRequest, domain.KindValidation, err.Error())
}

func (app *Application) unauthorizedAccessResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
}

func (app *Application) failedValidationResponse(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		app.badRequestResponse(w, r, err)
		return
	}

	resp := api.ValidationErrorResponse{
		Kind:             string(domain.KindValidation),
		Message:          ErrFailedValidation,
		RequestId:        middleware.GetReqID(r.Context()),
		Timestamp:        time.Now(),
		ValidationErrors: make([]api.ValidationError, 0, len(validationErrors)),
	}

	for _, fieldErr := range validationErrors {
		resp.ValidationErrors = append(resp.ValidationErrors, api.ValidationError{
			Field: fieldErr.Field(),
			Issue: appvalidator.ValidationMessage(fieldErr),
		})
	}

	err = app.writeJSON(w, http.StatusUnprocessableEntity, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// domainErrorResponse maps a billing error to its HTTP status by kind. Errors
// without a kind are internal.
func (app *Application) domainErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		app.serverErrorResponse(w, r, err)
		return
	}

	kind := domainErr.Kind

	switch kind {
	case domain.KindValidation:
		app.errorResponse(w, r, http.StatusBadRequest, kind, domainErr.Message)
	case domain.KindNotFound:
		app.errorResponse(w, r, http.StatusNotFound, kind, domainErr.Message)
	case domain.KindConflict:
		app.errorResponse(w, r, http.StatusConflict, kind, domainErr.Message)
	case domain.KindProcessorUnavailable:
		app.logError(r, err)
		app.errorResponse(w, r, http.StatusServiceUnavailable, kind, ErrProcessorUnavailable)
	default:
		app.serverErrorResponse(w, r, err)
	}
}
