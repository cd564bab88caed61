package treasurer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
	"github.com/x402-foundation/x402-mcp-proxy/wallet"
)

// DefaultTimeout matches the facilitator client's default HTTP timeout.
const DefaultTimeout = 30 * time.Second

// RemotePolicyTreasurer delegates payment decisions to an external policy
// service over HTTP: a one-time Sign-In-With-Ethereum style login exchanges
// a wallet-signed message for a bearer token, then every 402 is posted to
// /authorize and every lifecycle event to /events. Login is deduplicated
// behind a mutex so concurrent calls never race to log in twice.
type RemotePolicyTreasurer struct {
	url        string
	wallet     wallet.Wallet
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// Config configures a RemotePolicyTreasurer.
type Config struct {
	// URL is the policy service's base URL.
	URL string
	// Wallet signs the Sign-In-With-Ethereum style login message; its
	// Address() identifies the proxy to the policy service.
	Wallet wallet.Wallet
	// Timeout bounds every HTTP call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// NewRemotePolicyTreasurer builds a RemotePolicyTreasurer from cfg.
func NewRemotePolicyTreasurer(cfg Config) *RemotePolicyTreasurer {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &RemotePolicyTreasurer{
		url:        cfg.URL,
		wallet:     cfg.Wallet,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// OnPaymentRequired implements Treasurer by posting the offer to
// /authorize and returning the service's decision.
func (t *RemotePolicyTreasurer) OnPaymentRequired(ctx context.Context, accepts []x402types.PaymentRequirements) (Decision, error) {
	if len(accepts) == 0 {
		return Declined, nil
	}

	token, err := t.loginOnce(ctx)
	if err != nil {
		return Declined, fmt.Errorf("treasurer: login: %w", err)
	}

	var resp struct {
		Accept bool `json:"accept"`
		Index  int  `json:"index"`
	}
	if err := t.doRequest(ctx, token, "/authorize", struct {
		Accepts []x402types.PaymentRequirements `json:"accepts"`
	}{Accepts: accepts}, &resp); err != nil {
		return Declined, fmt.Errorf("treasurer: authorize: %w", err)
	}

	if !resp.Accept {
		return Declined, nil
	}
	if resp.Index < 0 || resp.Index >= len(accepts) {
		return Declined, fmt.Errorf("treasurer: authorize returned out-of-range index %d", resp.Index)
	}
	return Decision{Accept: true, Index: resp.Index}, nil
}

// OnStatus implements Treasurer by best-effort POSTing the event to
// /events from a background goroutine, so it returns without waiting.
// Failures are logged and never returned: a lost status notification cannot
// corrupt payment state, and OnStatus must never block the bridge.
func (t *RemotePolicyTreasurer) OnStatus(ctx context.Context, authorizationID string, status x402types.Status, details map[string]interface{}) {
	go func() {
		token, err := t.loginOnce(ctx)
		if err != nil {
			slog.Default().Warn("treasurer: status event not reported", "status", status, "authorizationId", authorizationID, "err", err)
			return
		}
		body := struct {
			AuthorizationID string                 `json:"authorizationId"`
			Status          x402types.Status       `json:"status"`
			Details         map[string]interface{} `json:"details,omitempty"`
		}{AuthorizationID: authorizationID, Status: status, Details: details}

		if err := t.doRequest(ctx, token, "/events", body, nil); err != nil {
			slog.Default().Warn("treasurer: status event not reported", "status", status, "authorizationId", authorizationID, "err", err)
		}
	}()
}

// loginOnce returns the cached bearer token if it hasn't expired, logging in
// at most once even under concurrent callers.
func (t *RemotePolicyTreasurer) loginOnce(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.tokenExp) {
		return t.token, nil
	}

	message, err := t.siweMessage()
	if err != nil {
		return "", fmt.Errorf("build login message: %w", err)
	}
	signature, err := t.wallet.SignMessage(ctx, []byte(message))
	if err != nil {
		return "", fmt.Errorf("sign login message: %w", err)
	}

	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	body := struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}{Address: t.wallet.Address(), Message: message, Signature: signature}
	if err := t.doRequestUnauthenticated(ctx, "/login", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login response missing token")
	}
	if resp.ExpiresIn <= 0 {
		resp.ExpiresIn = int(DefaultTimeout.Seconds())
	}
	t.token = resp.Token
	t.tokenExp = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return t.token, nil
}

// siweMessage builds a Sign-In-With-Ethereum style plaintext message
// binding the proxy's wallet address to this policy service and a random
// nonce, so the service can verify the signature and reject replays.
func (t *RemotePolicyTreasurer) siweMessage() (string, error) {
	var nonceBytes [16]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(nonceBytes[:])

	domain := t.url
	if u, err := url.Parse(t.url); err == nil && u.Host != "" {
		domain = u.Host
	}

	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\nSign in to the x402 policy service.\n\nURI: %s\nVersion: 1\nNonce: %s\nIssued At: %s\n",
		domain, t.wallet.Address(), t.url, nonce, time.Now().UTC().Format(time.RFC3339),
	), nil
}

func (t *RemotePolicyTreasurer) doRequest(ctx context.Context, token, path string, body, result interface{}) error {
	return t.send(ctx, path, body, result, token)
}

func (t *RemotePolicyTreasurer) doRequestUnauthenticated(ctx context.Context, path string, body, result interface{}) error {
	return t.send(ctx, path, body, result, "")
}

func (t *RemotePolicyTreasurer) send(ctx context.Context, path string, body, result interface{}, token string) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
