package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
)

// mcpSessionHeader is the MCP streamable-HTTP session header this
// transport tracks once the upstream server assigns one on initialize.
const mcpSessionHeader = "Mcp-Session-Id"

// UpstreamTransport speaks to the wrapped MCP server over plain HTTP POST:
// one JSON-RPC request per call, one JSON-RPC response per reply. It
// carries the upstream's session id once assigned, the way
// httputil.ReverseProxy carries a target host, but strips every
// buyer-identifying header before forwarding so the upstream never learns
// who is actually asking.
type UpstreamTransport struct {
	url        string
	httpClient *http.Client

	onMessage func(jsonrpc.Message)
	onClose   func()
	onError   func(error)

	mu        sync.Mutex
	sessionID string
	closed    bool
	closeCh   chan struct{}
}

// hopHeaders are stripped from every outbound request to the upstream
// server, mirroring the reverse proxy's discipline of never leaking
// transport-level or buyer-identifying headers to the backend it fronts.
var hopHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-Ip",
	"Forwarded",
	"Via",
	"Authorization",
}

// NewUpstreamTransport builds a transport that POSTs JSON-RPC messages to
// url. httpClient may be nil, in which case http.DefaultClient is used.
func NewUpstreamTransport(url string, httpClient *http.Client) *UpstreamTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &UpstreamTransport{
		url:        url,
		httpClient: httpClient,
		closeCh:    make(chan struct{}),
	}
}

// Start blocks until ctx is canceled or Close is called; the transport has
// no background read loop since HTTP request/response is self-contained.
func (t *UpstreamTransport) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closeCh:
		return nil
	}
}

// OnMessage implements bridge.Transport.
func (t *UpstreamTransport) OnMessage(fn func(jsonrpc.Message)) { t.onMessage = fn }

// OnClose implements bridge.Transport.
func (t *UpstreamTransport) OnClose(fn func()) { t.onClose = fn }

// OnError implements bridge.Transport.
func (t *UpstreamTransport) OnError(fn func(error)) { t.onError = fn }

// Close implements bridge.Transport. Idempotent.
func (t *UpstreamTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.closeCh)
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

// Send POSTs msg to the upstream server and dispatches its reply (if any)
// to the registered OnMessage handler.
func (t *UpstreamTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal outbound message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build upstream request: %w", err)
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	t.mu.Lock()
	sid := t.sessionID
	t.mu.Unlock()
	if sid != "" {
		httpReq.Header.Set(mcpSessionHeader, sid)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transport: upstream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSID := httpResp.Header.Get(mcpSessionHeader); newSID != "" {
		t.mu.Lock()
		t.sessionID = newSID
		t.mu.Unlock()
	}

	isNotification := msg.Request != nil && msg.Request.IsNotification()

	if httpResp.StatusCode == http.StatusAccepted || isNotification {
		io.Copy(io.Discard, httpResp.Body)
		return nil
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("transport: upstream returned status %d: %s", httpResp.StatusCode, string(data))
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("transport: read upstream response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	reply, err := jsonrpc.ParseMessage(data)
	if err != nil {
		return fmt.Errorf("transport: decode upstream response: %w", err)
	}

	if t.onMessage != nil {
		t.onMessage(reply)
	}
	return nil
}
