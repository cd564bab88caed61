// Package proxyserver is the HTTP front door: it turns POST/DELETE /mcp
// requests into bridge.Bridge sessions, each pairing a buyer-facing
// transport.ServerTransport with an upstream-facing
// transport.UpstreamTransport validated against the request's target URL.
package proxyserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/x402-foundation/x402-mcp-proxy/bridge"
	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
	"github.com/x402-foundation/x402-mcp-proxy/internal/xerrors"
	"github.com/x402-foundation/x402-mcp-proxy/transport"
	"github.com/x402-foundation/x402-mcp-proxy/treasurer"
	"github.com/x402-foundation/x402-mcp-proxy/wallet"
	"github.com/x402-foundation/x402-mcp-proxy/x402mw"
)

const sessionHeader = "mcp-session-id"

// Options configures a Server.
type Options struct {
	Wallet     wallet.Wallet
	Treasurer  treasurer.Treasurer
	MaxPending int
	Log        *slog.Logger
	HTTPClient *http.Client
}

// Server is the gin-backed HTTP front door for the proxy.
type Server struct {
	router     *gin.Engine
	wallet     wallet.Wallet
	treasurer  treasurer.Treasurer
	maxPending int
	log        *slog.Logger
	httpClient *http.Client
	registry   *registry
}

// New builds a Server and registers its routes.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxPending := opts.MaxPending
	if maxPending <= 0 {
		maxPending = bridge.DefaultMaxPending
	}

	s := &Server{
		wallet:     opts.Wallet,
		treasurer:  opts.Treasurer,
		maxPending: maxPending,
		log:        log,
		httpClient: httpClient,
		registry:   newRegistry(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/mcp", s.handlePost)
	r.DELETE("/mcp", s.handleDelete)
	s.router = r
	return s
}

// Handler returns the http.Handler to mount (e.g. in an http.Server).
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handlePost(c *gin.Context) {
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		s.writeError(c, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInternal, "malformed JSON-RPC body", err))
		return
	}
	msg, err := jsonrpc.ParseMessage(raw)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInternal, "malformed JSON-RPC message", err))
		return
	}

	sid := c.GetHeader(sessionHeader)

	var sess *session
	if sid != "" {
		found, ok := s.registry.get(sid)
		if !ok {
			s.writeError(c, http.StatusNotFound, xerrors.New(xerrors.CodeSessionNotFound, "unknown mcp session"))
			return
		}
		sess = found
	} else {
		if msg.Request == nil || msg.Request.Method != transport.InitializeMethod {
			s.writeError(c, http.StatusBadRequest, xerrors.New(xerrors.CodeSessionNotFound, "missing mcp-session-id header; a session is born at initialize"))
			return
		}

		target := c.Query("target")
		targetURL, verr := validateTargetURL(target)
		if verr != nil {
			s.writeError(c, http.StatusBadRequest, verr)
			return
		}

		serverTransport := transport.NewServerTransport()
		upstreamTransport := transport.NewUpstreamTransport(targetURL.String(), s.httpClient)
		mw := x402mw.New(s.wallet, s.treasurer)
		mw.SetLogger(s.log)

		b := bridge.New(serverTransport, upstreamTransport, mw, s.maxPending, s.log)
		bridgeCtx, cancel := context.WithCancel(context.Background())

		serverTransport.OnSessionInitialized(func(sessionID string) {
			newSess := &session{id: sessionID, server: serverTransport, bridge: b, cancel: cancel}
			s.registry.put(newSess)

			go func() {
				if err := b.Run(bridgeCtx); err != nil {
					s.log.Debug("bridge run ended", "session", sessionID, "err", err)
				}
				s.registry.remove(sessionID)
			}()
		})

		sess = &session{server: serverTransport, bridge: b, cancel: cancel}
	}

	resp, err := sess.server.Dispatch(c.Request.Context(), msg)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, xerrors.Wrap(xerrors.CodeInternal, "failed to dispatch request", err))
		return
	}

	if sessID := sess.server.SessionID(); sessID != "" {
		c.Header(sessionHeader, sessID)
	}

	if resp == nil {
		// Notification: no reply body expected.
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDelete(c *gin.Context) {
	sid := c.GetHeader(sessionHeader)
	if sid == "" {
		s.writeError(c, http.StatusBadRequest, xerrors.New(xerrors.CodeSessionNotFound, "missing mcp-session-id header"))
		return
	}

	sess, ok := s.registry.remove(sid)
	if !ok {
		s.writeError(c, http.StatusNotFound, xerrors.New(xerrors.CodeSessionNotFound, "unknown mcp session"))
		return
	}
	sess.cancel()
	_ = sess.bridge.Close()
	c.Status(http.StatusNoContent)
}

func (s *Server) writeError(c *gin.Context, status int, perr *xerrors.ProxyError) {
	s.log.Warn("proxy request failed", "code", perr.Code, "message", perr.Message)
	c.AbortWithStatusJSON(status, perr)
}
