package proxyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
	"github.com/x402-foundation/x402-mcp-proxy/treasurer"
)

type stubWallet struct{}

func (stubWallet) Address() string { return "0xbuyer" }

func (stubWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	return "0xsig", nil
}

func (stubWallet) CreatePayment(ctx context.Context, req x402types.PaymentRequirements) (*x402types.PaymentPayload, error) {
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := New(Options{
		Wallet:     stubWallet{},
		Treasurer:  treasurer.NewNaiveTreasurer(0),
		MaxPending: 10,
		Log:        discardLogger(),
	})
	return httptest.NewServer(s.Handler())
}

func postRPC(t *testing.T, client *http.Client, url, sessionID string, req *jsonrpc.Request) (*http.Response, *jsonrpc.Response) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build http request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		httpReq.Header.Set(sessionHeader, sessionID)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, &rpcResp
}

func TestServer_NewSessionRoundTripAndDelete(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: &jsonrpc.Result{}})
	}))
	defer upstream.Close()

	srv := newTestServer(t)
	defer srv.Close()

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "initialize"}
	httpResp, rpcResp := postRPC(t, srv.Client(), srv.URL+"/mcp?target="+upstream.URL, "", req)
	if rpcResp == nil {
		t.Fatalf("expected a 200 response, got status %d", httpResp.StatusCode)
	}
	sid := httpResp.Header.Get(sessionHeader)
	if sid == "" {
		t.Fatal("expected mcp-session-id header on first response")
	}
	if rpcResp.ID.String() != req.ID.String() {
		t.Fatalf("expected response keyed by request id, got %q", rpcResp.ID.String())
	}

	req2 := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(2), Method: "tools/call"}
	_, rpcResp2 := postRPC(t, srv.Client(), srv.URL+"/mcp", sid, req2)
	if rpcResp2 == nil || rpcResp2.ID.String() != req2.ID.String() {
		t.Fatalf("expected second call on existing session to succeed, got %+v", rpcResp2)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	delReq.Header.Set(sessionHeader, sid)
	delResp, err := srv.Client().Do(delReq)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", delResp.StatusCode)
	}

	httpResp3, _ := postRPC(t, srv.Client(), srv.URL+"/mcp", sid, req2)
	if httpResp3.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a deleted session, got %d", httpResp3.StatusCode)
	}
}

func TestServer_MissingTargetIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "initialize"}
	httpResp, _ := postRPC(t, srv.Client(), srv.URL+"/mcp", "", req)
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing target, got %d", httpResp.StatusCode)
	}
}

func TestServer_NonInitializeWithoutSessionIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "tools/call"}
	httpResp, _ := postRPC(t, srv.Client(), srv.URL+"/mcp?target=http://127.0.0.1:0", "", req)
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-initialize request with no session, got %d", httpResp.StatusCode)
	}
}

func TestServer_DeleteUnknownSessionIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	delReq.Header.Set(sessionHeader, "does-not-exist")
	resp, err := srv.Client().Do(delReq)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
