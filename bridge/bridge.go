// Package bridge pairs a buyer-facing Transport with an upstream-facing
// Transport and relays JSON-RPC messages between them, transparently
// paying for any tool call the upstream answers with a 402. Backpressure
// and pending-request tracking use a mutex-guarded map of in-flight
// requests keyed by request id.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
	"github.com/x402-foundation/x402-mcp-proxy/internal/xerrors"
	"github.com/x402-foundation/x402-mcp-proxy/x402mw"
)

// DefaultMaxPending is the default ceiling on concurrently in-flight
// buyer requests before the bridge starts rejecting new ones.
const DefaultMaxPending = 1000

// Bridge relays one buyer session's JSON-RPC traffic to one upstream MCP
// server, intercepting and paying for 402 responses in between.
type Bridge struct {
	downstream Transport
	upstream   Transport
	mw         *x402mw.Middleware
	maxPending int
	log        *slog.Logger

	started atomic.Bool
	closing atomic.Bool

	mu        sync.Mutex
	pending   map[string]*jsonrpc.Request
	retryReqs map[string]*jsonrpc.Request
}

// New builds a Bridge. downstream is the buyer-facing leg, upstream is the
// MCP server leg, mw applies payment policy to upstream responses.
// maxPending <= 0 uses DefaultMaxPending.
func New(downstream, upstream Transport, mw *x402mw.Middleware, maxPending int, log *slog.Logger) *Bridge {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		downstream: downstream,
		upstream:   upstream,
		mw:         mw,
		maxPending: maxPending,
		log:        log,
		pending:    make(map[string]*jsonrpc.Request),
		retryReqs:  make(map[string]*jsonrpc.Request),
	}
}

// Run wires both transports together and blocks until either side closes
// or ctx is canceled. It returns the first non-nil error either leg's Start
// reports (context.Canceled when ctx is canceled), or nil when both legs
// stop through Close.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge: Run called more than once")
	}

	b.downstream.OnMessage(func(msg jsonrpc.Message) { b.handleDownstream(ctx, msg) })
	b.downstream.OnError(func(err error) { b.log.Warn("downstream transport error", "err", err) })
	b.downstream.OnClose(func() { _ = b.Close() })

	b.upstream.OnMessage(func(msg jsonrpc.Message) { b.handleUpstream(ctx, msg) })
	b.upstream.OnError(func(err error) { b.log.Warn("upstream transport error", "err", err) })
	b.upstream.OnClose(func() { _ = b.Close() })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.downstream.Start(gctx) })
	g.Go(func() error { return b.upstream.Start(gctx) })
	return g.Wait()
}

// Close tears down both transports. Idempotent.
func (b *Bridge) Close() error {
	if !b.closing.CompareAndSwap(false, true) {
		return nil
	}

	err1 := b.downstream.Close()
	err2 := b.upstream.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// handleDownstream processes a message read from the buyer and forwards it
// upstream, applying backpressure to new requests.
func (b *Bridge) handleDownstream(ctx context.Context, msg jsonrpc.Message) {
	req := msg.Request
	if req == nil {
		// A response from the buyer has nowhere to route in this proxy's
		// request/response model; drop it.
		return
	}

	if req.IsNotification() {
		if err := b.upstream.Send(ctx, msg); err != nil {
			b.log.Warn("forward notification upstream failed", "err", err)
		}
		return
	}

	key := req.ID.String()

	b.mu.Lock()
	if len(b.pending) >= b.maxPending {
		b.mu.Unlock()
		b.replyBackpressure(ctx, req)
		return
	}
	b.pending[key] = req
	b.mu.Unlock()

	if err := b.upstream.Send(ctx, msg); err != nil {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
		b.replyError(ctx, req.ID, xerrors.Wrap(xerrors.CodeUpstreamUnreachable, "failed to reach upstream", err))
	}
}

// handleUpstream processes a message read from the upstream MCP server:
// responses are matched against the pending map (directly, or via a
// payment retry translation) and either relayed to the buyer or used to
// trigger a payment retry.
func (b *Bridge) handleUpstream(ctx context.Context, msg jsonrpc.Message) {
	resp := msg.Response
	if resp == nil {
		// A server-initiated request/notification passes straight through;
		// this proxy does not intercept the upstream-to-buyer direction
		// for anything but responses to buyer-initiated calls.
		if err := b.downstream.Send(ctx, msg); err != nil {
			b.log.Warn("forward upstream request/notification failed", "err", err)
		}
		return
	}

	key := resp.ID.String()

	b.mu.Lock()
	pendingRetryReq, isRetry := b.retryReqs[key]
	if isRetry {
		delete(b.retryReqs, key)
	}
	b.mu.Unlock()
	if isRetry {
		translated := b.mw.OnRetryResponse(ctx, pendingRetryReq, resp)
		b.finishPending(ctx, key, translated)
		return
	}

	b.mu.Lock()
	req, ok := b.pending[key]
	b.mu.Unlock()
	if !ok {
		b.log.Warn("response for unknown or already-resolved request", "id", key)
		return
	}

	action, retryReq, err := b.mw.OnUpstreamResponse(ctx, req, resp)
	if err != nil {
		b.log.Warn("payment middleware error, relaying original response", "id", key, "err", err)
		b.finishPending(ctx, key, resp)
		return
	}

	switch action {
	case x402mw.ActionRetry:
		b.mu.Lock()
		delete(b.pending, key)
		b.pending[retryReq.ID.String()] = req
		b.retryReqs[retryReq.ID.String()] = retryReq
		b.mu.Unlock()

		if err := b.upstream.Send(ctx, jsonrpc.Message{Request: retryReq}); err != nil {
			b.mu.Lock()
			delete(b.pending, retryReq.ID.String())
			delete(b.retryReqs, retryReq.ID.String())
			b.mu.Unlock()
			b.replyError(ctx, req.ID, xerrors.Wrap(xerrors.CodeUpstreamUnreachable, "failed to send payment retry upstream", err))
		}
	default:
		b.finishPending(ctx, key, resp)
	}
}

// finishPending removes the pending entry under key and relays resp to the
// buyer.
func (b *Bridge) finishPending(ctx context.Context, key string, resp *jsonrpc.Response) {
	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()

	if err := b.downstream.Send(ctx, jsonrpc.Message{Response: resp}); err != nil {
		b.log.Warn("relay response to buyer failed", "id", key, "err", err)
	}
}

func (b *Bridge) replyBackpressure(ctx context.Context, req *jsonrpc.Request) {
	b.replyError(ctx, req.ID, xerrors.New(xerrors.CodeBackpressure, fmt.Sprintf("too many pending requests (limit %d)", b.maxPending)))
}

func (b *Bridge) replyError(ctx context.Context, id jsonrpc.ID, perr *xerrors.ProxyError) {
	data, _ := json.Marshal(perr)
	resp := &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Error: &jsonrpc.Error{
			Code:    perr.JSONRPCCode(),
			Message: perr.Message,
			Data:    data,
		},
	}
	if err := b.downstream.Send(ctx, jsonrpc.Message{Response: resp}); err != nil {
		b.log.Warn("send error reply to buyer failed", "err", err)
	}
}
