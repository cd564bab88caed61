// Package transport implements the two HTTP-facing Transport halves a
// Bridge pairs: ServerTransport speaks to the buyer over the proxy's own
// /mcp endpoint, and UpstreamTransport speaks to the wrapped MCP server.
// Both model MCP's streamable-HTTP wire style: one JSON-RPC request per
// POST, one JSON-RPC response per reply, correlated by request id.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
)

// InitializeMethod is the one JSON-RPC method a session-less ServerTransport
// accepts: the MCP handshake that mints its session id.
const InitializeMethod = "initialize"

// ServerTransport is the buyer-facing half of a bridge. Unlike a
// long-lived socket transport, it has no background read loop: each
// buyer HTTP request is handed in via Dispatch, which blocks until the
// bridge produces a matching response via Send (or the request's context
// is canceled).
//
// A ServerTransport is born without a session id. The first request (a
// message with an id) it sees must be an MCP "initialize" request;
// notifications are handed to onMessage without this check. Dispatch mints
// the session id
// at that point and fires the session-initialized callback before handing
// the message to the bridge, so the caller can register the bridge under
// the id only once it actually exists.
type ServerTransport struct {
	onMessage            func(jsonrpc.Message)
	onClose              func()
	onError              func(error)
	onSessionInitialized func(sessionID string)

	mu        sync.Mutex
	sessionID string
	waiting   map[string]chan *jsonrpc.Response
	closed    bool
	closeCh   chan struct{}
}

// NewServerTransport builds a ServerTransport with no session id yet; one
// is minted on the first "initialize" request it dispatches.
func NewServerTransport() *ServerTransport {
	return &ServerTransport{
		waiting: make(map[string]chan *jsonrpc.Response),
		closeCh: make(chan struct{}),
	}
}

// SessionID returns the MCP session id this transport was assigned, or the
// empty string before its first "initialize" request.
func (t *ServerTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// OnSessionInitialized registers a callback fired synchronously, from
// within Dispatch, the moment a session id is minted. The callback runs
// before Dispatch hands the initialize message to onMessage, so a caller
// that registers the bridge here is guaranteed the registry entry exists
// before the bridge can produce any response referencing the session.
func (t *ServerTransport) OnSessionInitialized(fn func(sessionID string)) { t.onSessionInitialized = fn }

// Start blocks until ctx is canceled or Close is called.
func (t *ServerTransport) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closeCh:
		return nil
	}
}

// OnMessage implements bridge.Transport.
func (t *ServerTransport) OnMessage(fn func(jsonrpc.Message)) { t.onMessage = fn }

// OnClose implements bridge.Transport.
func (t *ServerTransport) OnClose(fn func()) { t.onClose = fn }

// OnError implements bridge.Transport.
func (t *ServerTransport) OnError(fn func(error)) { t.onError = fn }

// Close tears down the session, unblocking any Dispatch calls still
// waiting for a response.
func (t *ServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	waiting := t.waiting
	t.waiting = make(map[string]chan *jsonrpc.Response)
	t.mu.Unlock()

	for _, ch := range waiting {
		close(ch)
	}
	close(t.closeCh)
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

// ensureInitialized mints a session id the first time it sees an
// "initialize" request, firing onSessionInitialized before returning so
// the caller can register the bridge under the id before any response can
// reference it. A non-initialize request arriving before any session id
// exists is rejected: a session is born at initialize, not at an
// arbitrary first message.
func (t *ServerTransport) ensureInitialized(req *jsonrpc.Request) error {
	t.mu.Lock()
	if t.sessionID != "" {
		t.mu.Unlock()
		return nil
	}
	if req.Method != InitializeMethod {
		t.mu.Unlock()
		return fmt.Errorf("transport: session not initialized: first message must be %q, got %q", InitializeMethod, req.Method)
	}
	sessionID := uuid.New().String()
	t.sessionID = sessionID
	t.mu.Unlock()

	if t.onSessionInitialized != nil {
		t.onSessionInitialized(sessionID)
	}
	return nil
}

// Dispatch feeds an inbound buyer message (decoded from one POST /mcp
// body) into the bridge. For a notification it returns immediately with a
// nil response (the HTTP handler should reply 202 Accepted). For a
// request, it blocks until the bridge calls Send with the matching
// response or ctx is canceled.
func (t *ServerTransport) Dispatch(ctx context.Context, msg jsonrpc.Message) (*jsonrpc.Response, error) {
	req := msg.Request
	if req == nil {
		return nil, fmt.Errorf("transport: buyer sent a response, expected a request")
	}

	if req.IsNotification() {
		if t.onMessage != nil {
			t.onMessage(msg)
		}
		return nil, nil
	}

	if err := t.ensureInitialized(req); err != nil {
		return nil, err
	}

	key := req.ID.String()
	ch := make(chan *jsonrpc.Response, 1)

	t.mu.Lock()
	if t.closed {
		sid := t.sessionID
		t.mu.Unlock()
		return nil, fmt.Errorf("transport: session %s is closed", sid)
	}
	t.waiting[key] = ch
	t.mu.Unlock()

	if t.onMessage != nil {
		t.onMessage(msg)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("transport: session %s closed while awaiting response", t.sessionID)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiting, key)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Send implements bridge.Transport, delivering resp to whichever Dispatch
// call is waiting on its id.
func (t *ServerTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	resp := msg.Response
	if resp == nil {
		return fmt.Errorf("transport: bridge sent a non-response to the buyer-facing transport")
	}

	key := resp.ID.String()
	t.mu.Lock()
	ch, ok := t.waiting[key]
	if ok {
		delete(t.waiting, key)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("transport: no buyer request waiting for response id %s", key)
	}
	ch <- resp
	return nil
}
