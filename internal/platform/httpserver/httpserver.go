// Package httpserver constructs the http.Server the challenge API runs on.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server. A read-header timeout is set so idle connections
// cannot pin workers; handler-level deadlines belong to the handlers.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
