// package server contains the router, middleware and handlers for the aria backend
package server

import (
	"net/http"
)

// Middleware decorates a handler; aria uses it for logging, panic recovery and rate limiting.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that owns a set of paths, like the OAuth callback.
type Handler interface {
	http.Handler
	Routes() []string
}

// Router is what [App.Register] needs from a router.
type Router interface {
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler)
	Handler(handler Handler)
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}
