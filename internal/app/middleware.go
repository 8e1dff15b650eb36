package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

func (app *Application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")

				app.serverErrorResponse(w, r, fmt.Errorf("%s", err))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// logRequest stores a request scoped logger in the context.
func (app *Application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := app.logger.With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"uri", r.URL.RequestURI(),
		)

		ctx := context.WithValue(r.Context(), loggerKey, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (app *Application) requireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId := app.sessionManager.GetInt(r.Context(), SessionKeyUserId.String())
		if userId == 0 {
			app.unauthorizedAccessResponse(w, r)
			return
		}

		logger := app.contextGetLogger(r).With("user_id", userId)

		ctx := context.WithValue(r.Context(), SessionKeyUserId, userId)
		ctx = context.WithValue(ctx, loggerKey, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInternalToken guards the operator endpoints with a bearer token whose
// bcrypt hash is configured at startup.
func (app *Application) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" || app.config.Internal.TokenHash == "" {
			app.unauthorizedAccessResponse(w, r)
			return
		}

		err := bcrypt.CompareHashAndPassword([]byte(app.config.Internal.TokenHash), []byte(token))
		if err != nil {
			if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				app.logError(r, err)
			}

			app.unauthorizedAccessResponse(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateRequest checks the request against the operation the matched chi
// route pattern names in the OpenAPI document. Routes missing from the
// document pass through. It must run after routing, so it is only attached to
// groups and inline routers, never to a mounted subrouter.
func (app *Application) validateRequest(doc *openapi3.T) func(http.Handler) http.Handler {
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := chi.RouteContext(r.Context())
			if rctx == nil {
				next.ServeHTTP(w, r)
				return
			}

			pattern := rctx.RoutePattern()

			pathItem := doc.Paths.Value(pattern)
			if pathItem == nil {
				next.ServeHTTP(w, r)
				return
			}

			operation := pathItem.GetOperation(r.Method)
			if operation == nil {
				next.ServeHTTP(w, r)
				return
			}

			pathParams := make(map[string]string, len(rctx.URLParams.Keys))
			for i, key := range rctx.URLParams.Keys {
				pathParams[key] = rctx.URLParams.Values[i]
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route: &routers.Route{
					Spec:      doc,
					Path:      pattern,
					PathItem:  pathItem,
					Method:    r.Method,
					Operation: operation,
				},
				Options: options,
			}

			err := openapi3filter.ValidateRequest(r.Context(), input)
			if err != nil {
				app.badRequestResponse(w, r, requestValidationError(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestValidationError(err error) error {
	var requestErr *openapi3filter.RequestError
	if errors.As(err, &requestErr) {
		switch {
		case requestErr.Parameter != nil:
			return fmt.Errorf("invalid %s parameter %q", requestErr.Parameter.In, requestErr.Parameter.Name)
		case requestErr.RequestBody != nil:
			return errors.New("request body does not match the expected schema")
		}
	}

	return errors.New("request does not match the API definition")
}
