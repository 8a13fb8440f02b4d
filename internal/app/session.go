package app

import (
	"context"
	"log/slog"
	"net/http"
)

// Session keys are written by the authentication service that shares the session store.
type sessionKey string

const (
	SessionKeyUserId = sessionKey("userID")
	SessionKeyEmail  = sessionKey("email")
)

func (s sessionKey) String() string {
	return string(s)
}

type contextKey string

const loggerContextKey = contextKey("logger")

func (app *Application) contextGetUserId(r *http.Request) int {
	userId, ok := r.Context().Value(SessionKeyUserId).(int)
	if !ok {
		panic("missing user id from context")
	}

	return userId
}

func (app *Application) contextGetEmail(r *http.Request) string {
	email, _ := r.Context().Value(SessionKeyEmail).(string)
	return email
}

func (app *Application) contextSetLogger(r *http.Request, logger *slog.Logger) *http.Request {
	ctx := context.WithValue(r.Context(), loggerContextKey, logger)
	return r.WithContext(ctx)
}

// contextGetLogger returns the request scoped logger, or the application logger outside
// of a request.
func (app *Application) contextGetLogger(r *http.Request) *slog.Logger {
	logger, ok := r.Context().Value(loggerContextKey).(*slog.Logger)
	if !ok {
		return app.logger
	}

	return logger
}
