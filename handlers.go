// SyncParty session server
// License AGPL3

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/opensyncparty/syncparty/internal/auth"
	"github.com/opensyncparty/syncparty/internal/party"
)

// reqCtx is the context injected into every request.
type reqCtx struct {
	app *App
}

// handleWS upgrades an incoming connection and runs its read loop. An auth
// token may arrive as a `token` query parameter (non-browser clients) and is
// validated before the upgrade; tokens inside protocol payloads are
// validated by the hub.
func handleWS(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	if tok := r.URL.Query().Get("token"); tok != "" {
		if _, err := app.auth.Validate(tok); err != nil {
			respondJSON(w, nil, err, http.StatusForbidden)
			return
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), app.cfg.AllowedOrigins)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	party.NewWSConn(ws, app.hub).Run()
}

// handleHealth reports process liveness and whether token validation is on.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)
	_, disabled := app.auth.(auth.Disabled)
	respondJSON(w, struct {
		Status      string `json:"status"`
		AuthEnabled bool   `json:"auth_enabled"`
	}{"ok", !disabled}, nil, http.StatusOK)
}

// originAllowed checks a browser Origin against the configured allow list.
// An empty Origin (non-browser client) and an empty list are both allowed.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		if au, err := url.Parse(a); err == nil && au.Hostname() == u.Hostname() {
			return true
		}
	}
	return false
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	out := struct {
		Error *string     `json:"error"`
		Data  interface{} `json:"data"`
	}{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// wrap is a middleware that attaches the app context to HTTP handlers.
func wrap(next http.HandlerFunc, app *App) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), "ctx", &reqCtx{app: app})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
