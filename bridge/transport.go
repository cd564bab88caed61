package bridge

import (
	"context"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
)

// Transport is one side of a bridged MCP connection: either the buyer-facing
// leg or the upstream-facing leg. A Transport owns its own I/O loop; Start
// blocks until the connection ends or ctx is canceled. Message delivery and
// lifecycle notification happen through the On* callbacks, registered
// before Start is called.
type Transport interface {
	// Start begins the transport's read loop. It blocks until the
	// transport closes (by peer, by error, or via Close) or ctx is done.
	Start(ctx context.Context) error

	// Send writes msg to the peer. Safe to call concurrently with Start's
	// read loop and with other Send calls.
	Send(ctx context.Context, msg jsonrpc.Message) error

	// OnMessage registers the handler invoked for every message the
	// transport reads. Must be called before Start.
	OnMessage(func(jsonrpc.Message))

	// OnClose registers the handler invoked once the transport's
	// connection ends, however that happens. Must be called before Start.
	OnClose(func())

	// OnError registers the handler invoked for non-fatal errors the
	// transport encounters (malformed messages, write failures on a
	// single send) that don't end the connection. Must be called before
	// Start.
	OnError(func(error))

	// Close tears down the transport's connection. Idempotent.
	Close() error
}
