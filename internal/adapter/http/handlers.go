// Package http implements the HTTP adapter: the REST control surface plus
// the SSE streaming endpoint.
package http

import (
	"github.com/relayd-dev/relayd/internal/config"
	"github.com/relayd-dev/relayd/internal/service"
)

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	mgr *service.Manager
	cfg config.Session
}

// NewHandlers creates the handler set.
func NewHandlers(mgr *service.Manager, cfg config.Session) *Handlers {
	return &Handlers{mgr: mgr, cfg: cfg}
}
