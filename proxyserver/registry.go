package proxyserver

import (
	"context"
	"sync"

	"github.com/x402-foundation/x402-mcp-proxy/bridge"
	"github.com/x402-foundation/x402-mcp-proxy/transport"
)

// session pairs a live bridge with the buyer-facing transport that feeds
// it, plus the cancel func that tears the bridge's Run goroutine down.
type session struct {
	id     string
	server *transport.ServerTransport
	bridge *bridge.Bridge
	cancel context.CancelFunc
}

// registry holds every live session, keyed by mcp-session-id. Server
// creates each session's bridge and puts the session here once its id is
// minted; the session leaves through remove, on DELETE or when its bridge
// stops running.
type registry struct {
	sessions sync.Map // string -> *session
}

func newRegistry() *registry {
	return &registry{}
}

func (r *registry) get(id string) (*session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session), true
}

func (r *registry) put(s *session) {
	r.sessions.Store(s.id, s)
}

// remove deletes and returns the session for id, if any, so the caller can
// tear it down outside any lock.
func (r *registry) remove(id string) (*session, bool) {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*session), true
}
