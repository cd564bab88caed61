package proxyserver

import (
	"net/url"

	"github.com/x402-foundation/x402-mcp-proxy/internal/xerrors"
)

// validateTargetURL checks that raw is a well-formed absolute http(s) URL
// suitable for an upstream MCP server, the way a reverse proxy validates
// its backend target before dialing it.
func validateTargetURL(raw string) (*url.URL, *xerrors.ProxyError) {
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidURL, "missing upstream target URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidURL, "malformed upstream target URL", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidURL, "upstream target URL must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.New(xerrors.CodeInvalidProtocol, "upstream target URL must use http or https").
			WithDetails(map[string]interface{}{"scheme": u.Scheme})
	}
	return u, nil
}
