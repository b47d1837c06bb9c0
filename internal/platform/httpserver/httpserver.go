// Package httpserver constructs the ops HTTP server. Lifecycle stays with
// the caller: cmd/server owns ListenAndServe and Shutdown.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the handler with a bounded header read, so a
// slow client cannot pin an accept slot open indefinitely.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
