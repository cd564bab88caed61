// Package x402mw implements the proxy's payment-interception decision
// table: given an upstream response, decide whether to relay it to the
// buyer unchanged or to transparently retry it with a signed payment
// attached. It owns the per-bridge bookkeeping needed to correlate a retry
// response back to the buyer's original request id, and to guard against
// retrying the same request more than once.
package x402mw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
	"github.com/x402-foundation/x402-mcp-proxy/internal/metakeys"
	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
	"github.com/x402-foundation/x402-mcp-proxy/internal/xerrors"
	"github.com/x402-foundation/x402-mcp-proxy/treasurer"
	"github.com/x402-foundation/x402-mcp-proxy/wallet"
)

// Action is the bridge's next step after OnUpstreamResponse classifies a
// response.
type Action int

const (
	// ActionRelay means the bridge should forward the response to the
	// buyer exactly as received from upstream.
	ActionRelay Action = iota
	// ActionRetry means the bridge should send the returned request to
	// upstream instead of relaying the triggering response, and later
	// route that retry's response through OnRetryResponse.
	ActionRetry
)

// retryIDPrefix marks a synthetic id minted for a payment retry, so stray
// responses are easy to recognize in logs even without consulting the
// pending map.
const retryIDPrefix = "retry_with_payment__"

type pendingAuth struct {
	originalID   jsonrpc.ID
	requirements x402types.PaymentRequirements
}

// Middleware applies x402 payment policy for a single bridge session. It is
// not safe to share across bridges: the pending/attempted maps are scoped
// to one buyer's sequence of requests.
type Middleware struct {
	wallet    wallet.Wallet
	treasurer treasurer.Treasurer
	log       *slog.Logger

	mu sync.Mutex
	// attempted guards against paying twice for the same buyer request.
	attempted map[string]bool
	// pending maps an authorization id, minted when a payment is created,
	// to the buyer request it is paying for. Looked up by the
	// authorization id the retry request carried in its own
	// params._meta, not by the retry request's JSON-RPC id.
	pending   map[string]pendingAuth
	seenNonce map[string]bool
}

// New builds a Middleware backed by w for signing and t for payment policy.
func New(w wallet.Wallet, t treasurer.Treasurer) *Middleware {
	return &Middleware{
		wallet:    w,
		treasurer: t,
		log:       slog.Default(),
		attempted: make(map[string]bool),
		pending:   make(map[string]pendingAuth),
		seenNonce: make(map[string]bool),
	}
}

// SetLogger overrides the logger used for observational warnings (e.g.
// nonce reuse). Safe to call once before the middleware starts handling
// responses.
func (m *Middleware) SetLogger(log *slog.Logger) {
	if log != nil {
		m.log = log
	}
}

// Classify reports whether resp is a payment-required error and, if so,
// returns its structured body.
func Classify(resp *jsonrpc.Response) (*x402types.PaymentRequired, bool) {
	if resp == nil || !resp.IsError() {
		return nil, false
	}
	if resp.Error.Code != metakeys.PaymentRequiredCode {
		return nil, false
	}
	return metakeys.ExtractPaymentRequired(resp.Error.Data)
}

// OnUpstreamResponse inspects resp, the upstream's reply to req, and
// decides what the bridge should do next. When it returns ActionRetry, the
// returned *jsonrpc.Request carries a synthetic id and must be sent to
// upstream in place of relaying resp; its eventual response must be passed
// to OnRetryResponse, not relayed directly.
func (m *Middleware) OnUpstreamResponse(ctx context.Context, req *jsonrpc.Request, resp *jsonrpc.Response) (Action, *jsonrpc.Request, error) {
	paymentRequired, ok := Classify(resp)
	if !ok {
		return ActionRelay, nil, nil
	}

	if req.Params != nil {
		if _, carriesPayment := req.Params.Meta.Get(metakeys.Payment); carriesPayment {
			// The request already carries a payment; relay the 402 rather
			// than paying a second time.
			return ActionRelay, nil, nil
		}
	}

	origKey := req.ID.String()

	m.mu.Lock()
	already := m.attempted[origKey]
	m.mu.Unlock()
	if already {
		// A payment retry for this request is still outstanding; relay
		// the 402 rather than paying a second time for the same request.
		return ActionRelay, nil, nil
	}

	decision, err := m.treasurer.OnPaymentRequired(ctx, paymentRequired.Accepts)
	if err != nil {
		return ActionRelay, nil, fmt.Errorf("x402mw: treasurer decision: %w", err)
	}
	if !decision.Accept {
		m.treasurer.OnStatus(ctx, "", x402types.StatusDeclined, map[string]interface{}{
			"requestId": origKey,
		})
		return ActionRelay, nil, nil
	}

	chosen := paymentRequired.Accepts[decision.Index]
	authorizationID := uuid.New().String()

	m.treasurer.OnStatus(ctx, authorizationID, x402types.StatusSending, map[string]interface{}{
		"requestId": origKey,
		"network":   chosen.Network,
	})

	payment, err := m.wallet.CreatePayment(ctx, chosen)
	if err != nil {
		m.treasurer.OnStatus(ctx, authorizationID, x402types.StatusError, map[string]interface{}{
			"error": err.Error(),
		})
		return ActionRelay, nil, fmt.Errorf("x402mw: create payment: %w", err)
	}

	nonce := payment.Payload.Authorization.Nonce
	m.mu.Lock()
	if m.seenNonce[nonce] {
		m.log.Warn("authorization nonce reused this session, upstream may be replaying settlement", "nonce", nonce, "authorizationId", authorizationID)
	}
	m.seenNonce[nonce] = true
	m.mu.Unlock()

	retryReq := req.Clone()
	retryReq.ID = jsonrpc.NewStringID(retryIDPrefix + origKey)
	if retryReq.Params == nil {
		retryReq.Params = &jsonrpc.Params{}
	}
	meta := retryReq.Params.Meta
	meta = metakeys.AttachPayment(meta, *payment)
	meta = metakeys.AttachPaymentID(meta, authorizationID)
	meta = metakeys.AttachOriginalID(meta, origKey)
	if id, ok := metakeys.ExtractPaymentIdentifier(chosen.Extra); ok {
		meta = metakeys.AttachPaymentIdentifier(meta, id)
	}
	retryReq.Params.Meta = meta

	m.mu.Lock()
	m.attempted[origKey] = true
	m.pending[authorizationID] = pendingAuth{
		originalID:   req.ID,
		requirements: chosen,
	}
	m.mu.Unlock()

	return ActionRetry, retryReq, nil
}

// OnRetryResponse classifies resp, the upstream's reply to retryRequest (the
// synthetic request OnUpstreamResponse returned for ActionRetry), translates
// it back to the buyer's original request id, and reports the outcome to
// the treasurer. retryRequest's params._meta carries the authorization id
// that correlates this response back to the pending payment. Its absence
// (CodeProtocolViolation) or an id with no pending authorization
// (CodeUnknownAuthorization) yields an error response rather than a silent
// pass-through, since only the middleware itself ever mints a retry request.
func (m *Middleware) OnRetryResponse(ctx context.Context, retryRequest *jsonrpc.Request, resp *jsonrpc.Response) *jsonrpc.Response {
	var meta jsonrpc.Meta
	if retryRequest != nil && retryRequest.Params != nil {
		meta = retryRequest.Params.Meta
	}

	authorizationID, ok := metakeys.ExtractPaymentID(meta)
	if !ok {
		return m.errorResponse(resp.ID, xerrors.New(xerrors.CodeProtocolViolation,
			fmt.Sprintf("retry request missing %q in params._meta", metakeys.PaymentID)))
	}

	m.mu.Lock()
	p, ok := m.pending[authorizationID]
	if ok {
		delete(m.pending, authorizationID)
		delete(m.attempted, p.originalID.String())
	}
	m.mu.Unlock()

	if !ok {
		return m.errorResponse(resp.ID, xerrors.New(xerrors.CodeUnknownAuthorization,
			fmt.Sprintf("no pending authorization for id %q", authorizationID)))
	}

	translated := *resp
	translated.ID = p.originalID

	if translated.IsError() {
		m.treasurer.OnStatus(ctx, authorizationID, x402types.StatusRejected, map[string]interface{}{
			"code":    translated.Error.Code,
			"message": translated.Error.Message,
		})
		return &translated
	}

	accepted := true
	var rejectionDetails map[string]interface{}
	if translated.Result != nil {
		if settle, ok := metakeys.ExtractPaymentResponse(translated.Result.Meta); ok {
			accepted = settle.Success
			if !accepted {
				rejectionDetails = map[string]interface{}{"errorReason": settle.ErrorReason}
			}
		}
	}

	if accepted {
		m.treasurer.OnStatus(ctx, authorizationID, x402types.StatusAccepted, nil)
	} else {
		m.treasurer.OnStatus(ctx, authorizationID, x402types.StatusRejected, rejectionDetails)
	}

	if translated.Result != nil {
		result := *translated.Result
		result.Meta = metakeys.AttachPaymentID(result.Meta, authorizationID)
		translated.Result = &result
	}

	return &translated
}

// errorResponse builds a JSON-RPC error response carrying perr's structured
// data, for classification failures that have no buyer request id to
// translate back to.
func (m *Middleware) errorResponse(id jsonrpc.ID, perr *xerrors.ProxyError) *jsonrpc.Response {
	data, _ := json.Marshal(perr)
	return &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Error: &jsonrpc.Error{
			Code:    perr.JSONRPCCode(),
			Message: perr.Message,
			Data:    data,
		},
	}
}
