// v1
// internal/httpapi/server.go
package httpapi

import (
	"net/http"
	"time"

	"moldsense/internal/config"
)

// NewServer builds the http.Server around the router with the configured
// timeouts. Write timeout stays generous because bulk replays and
// simulations pace their items.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
