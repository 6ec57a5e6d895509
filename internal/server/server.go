// Package server assembles the HTTP routes of the inbox service.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/inbox/internal/auth"
	"github.com/pliu/inbox/internal/handlers"
	"github.com/pliu/inbox/internal/messaging"
	"github.com/pliu/inbox/internal/middleware"
	"github.com/pliu/inbox/internal/store"
	"github.com/pliu/inbox/internal/ws"
)

type Deps struct {
	Store    store.Store
	Service  *messaging.Service
	Sessions *auth.Sessions
	Hub      *ws.Hub // optional, disables /api/ws when nil
}

func NewRouter(d Deps) *mux.Router {
	authHandler := &handlers.AuthHandler{Store: d.Store, Sessions: d.Sessions}
	messageHandler := &handlers.MessageHandler{Service: d.Service}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", authHandler.Signup).Methods("POST")
	api.HandleFunc("/auth/signin", authHandler.Signin).Methods("POST")
	api.HandleFunc("/auth/signout", authHandler.Signout).Methods("GET")

	// Everything below needs a signed-in user.
	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.Auth(d.Sessions))
	protected.HandleFunc("/messages", messageHandler.Inbox).Methods("GET")
	protected.HandleFunc("/messages", messageHandler.Send).Methods("POST")
	protected.HandleFunc("/messages/{userId}", messageHandler.Thread).Methods("GET")
	protected.HandleFunc("/messages-read", messageHandler.MarkRead).Methods("POST")

	if d.Hub != nil {
		protected.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := middleware.UserIDFromContext(r.Context())
			ws.ServeWs(d.Hub, w, r, userID)
		})
	}

	return r
}
