package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
	"github.com/x402-foundation/x402-mcp-proxy/internal/metakeys"
	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
	"github.com/x402-foundation/x402-mcp-proxy/treasurer"
	"github.com/x402-foundation/x402-mcp-proxy/x402mw"
)

// fakeTransport is an in-memory Transport driven entirely by test code
// calling deliver() to simulate an inbound message, and recording every
// outbound Send call for assertions.
type fakeTransport struct {
	onMessage func(jsonrpc.Message)
	onClose   func()
	onError   func(error)

	sent chan jsonrpc.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan jsonrpc.Message, 16)}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	f.sent <- msg
	return nil
}

func (f *fakeTransport) OnMessage(fn func(jsonrpc.Message)) { f.onMessage = fn }
func (f *fakeTransport) OnClose(fn func())                  { f.onClose = fn }
func (f *fakeTransport) OnError(fn func(error))             { f.onError = fn }
func (f *fakeTransport) Close() error                       { return nil }

func (f *fakeTransport) deliver(msg jsonrpc.Message) {
	f.onMessage(msg)
}

func (f *fakeTransport) waitSent(t *testing.T) jsonrpc.Message {
	t.Helper()
	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transport.Send")
		return jsonrpc.Message{}
	}
}

type alwaysPayWallet struct{}

func (alwaysPayWallet) Address() string { return "0xbuyer" }

func (alwaysPayWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	return "0xsig", nil
}

func (alwaysPayWallet) CreatePayment(ctx context.Context, req x402types.PaymentRequirements) (*x402types.PaymentPayload, error) {
	return &x402types.PaymentPayload{
		X402Version: x402types.ProtocolVersion,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: x402types.ExactPayload{
			Signature:     "0xsig",
			Authorization: x402types.ExactAuthorization{From: "0xbuyer", To: req.PayTo, Value: req.MaxAmountRequired},
		},
	}, nil
}

func TestBridge_RelaysOrdinarySuccess(t *testing.T) {
	down := newFakeTransport()
	up := newFakeTransport()
	mw := x402mw.New(alwaysPayWallet{}, treasurer.NewNaiveTreasurer(0))
	b := New(down, up, mw, 10, nil)

	go b.Run(context.Background())
	time.Sleep(10 * time.Millisecond)

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "tools/call"}
	down.deliver(jsonrpc.Message{Request: req})

	forwarded := up.waitSent(t)
	if forwarded.Request == nil || forwarded.Request.ID.String() != req.ID.String() {
		t.Fatalf("expected request forwarded upstream unchanged, got %+v", forwarded)
	}

	resp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: &jsonrpc.Result{}}
	up.deliver(jsonrpc.Message{Response: resp})

	relayed := down.waitSent(t)
	if relayed.Response == nil || relayed.Response.ID.String() != req.ID.String() {
		t.Fatalf("expected response relayed to buyer, got %+v", relayed)
	}
}

func TestBridge_PaysOnPaymentRequiredAndTranslatesResponse(t *testing.T) {
	down := newFakeTransport()
	up := newFakeTransport()
	mw := x402mw.New(alwaysPayWallet{}, treasurer.NewNaiveTreasurer(0))
	b := New(down, up, mw, 10, nil)

	go b.Run(context.Background())
	time.Sleep(10 * time.Millisecond)

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(42), Method: "tools/call"}
	down.deliver(jsonrpc.Message{Request: req})
	_ = up.waitSent(t) // initial forward

	pr := x402types.PaymentRequired{
		X402Version: 1,
		Accepts:     []x402types.PaymentRequirements{{Scheme: "exact", Network: "base-sepolia", PayTo: "0xpayee", MaxAmountRequired: "10"}},
	}
	data, _ := json.Marshal(pr)
	paymentRequiredResp := &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      req.ID,
		Error:   &jsonrpc.Error{Code: metakeys.PaymentRequiredCode, Message: "payment required", Data: data},
	}
	up.deliver(jsonrpc.Message{Response: paymentRequiredResp})

	retry := up.waitSent(t)
	if retry.Request == nil {
		t.Fatalf("expected a retry request sent upstream, got %+v", retry)
	}
	if retry.Request.ID.String() == req.ID.String() {
		t.Fatal("expected retry to use a synthetic id distinct from the original")
	}
	if _, ok := metakeys.ExtractPayment(retry.Request.Params.Meta); !ok {
		t.Fatal("expected signed payment attached to retry request")
	}

	finalResp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: retry.Request.ID, Result: &jsonrpc.Result{}}
	up.deliver(jsonrpc.Message{Response: finalResp})

	relayed := down.waitSent(t)
	if relayed.Response == nil || relayed.Response.ID.String() != req.ID.String() {
		t.Fatalf("expected buyer to receive a response keyed by the original id, got %+v", relayed)
	}
}

func TestBridge_BackpressureRejectsWhenFull(t *testing.T) {
	down := newFakeTransport()
	up := newFakeTransport()
	mw := x402mw.New(alwaysPayWallet{}, treasurer.NewNaiveTreasurer(0))
	b := New(down, up, mw, 1, nil)

	go b.Run(context.Background())
	time.Sleep(10 * time.Millisecond)

	first := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "tools/call"}
	down.deliver(jsonrpc.Message{Request: first})
	_ = up.waitSent(t)

	second := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(2), Method: "tools/call"}
	down.deliver(jsonrpc.Message{Request: second})

	rejected := down.waitSent(t)
	if rejected.Response == nil || rejected.Response.Error == nil {
		t.Fatalf("expected backpressure error response, got %+v", rejected)
	}
	if rejected.Response.ID.String() != second.ID.String() {
		t.Errorf("expected rejection keyed by the second request's id")
	}
}
