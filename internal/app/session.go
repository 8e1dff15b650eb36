package app

import (
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// SessionKeyUserId is written into the session by the identity service
	// at login and read here.
	SessionKeyUserId = contextKey("userID")
	loggerKey        = contextKey("logger")
)

func (k contextKey) String() string {
	return string(k)
}

func (app *Application) contextGetUserId(r *http.Request) int {
	userId, ok := r.Context().Value(SessionKeyUserId).(int)
	if !ok {
		panic("missing user id from context")
	}

	return userId
}

func (app *Application) contextGetLogger(r *http.Request) *slog.Logger {
	logger, ok := r.Context().Value(loggerKey).(*slog.Logger)
	if !ok {
		return app.logger
	}

	return logger
}
