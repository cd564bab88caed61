package transport

import (
	"context"
	"testing"
	"time"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
)

func TestServerTransport_DispatchBlocksUntilSend(t *testing.T) {
	tr := NewServerTransport()
	var received jsonrpc.Message
	tr.OnMessage(func(msg jsonrpc.Message) { received = msg })

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: InitializeMethod}

	done := make(chan *jsonrpc.Response, 1)
	go func() {
		resp, err := tr.Dispatch(context.Background(), jsonrpc.Message{Request: req})
		if err != nil {
			t.Errorf("unexpected dispatch error: %v", err)
			return
		}
		done <- resp
	}()

	time.Sleep(10 * time.Millisecond)
	if received.Request == nil {
		t.Fatal("expected onMessage to fire synchronously before Send arrives")
	}

	want := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: &jsonrpc.Result{}}
	if err := tr.Send(context.Background(), jsonrpc.Message{Response: want}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case resp := <-done:
		if resp.ID.String() != req.ID.String() {
			t.Errorf("unexpected response id: %s", resp.ID.String())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch to return")
	}
}

func TestServerTransport_NotificationDoesNotBlock(t *testing.T) {
	tr := NewServerTransport()
	fired := make(chan struct{}, 1)
	tr.OnMessage(func(msg jsonrpc.Message) { fired <- struct{}{} })

	note := &jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "notifications/initialized"}
	resp, err := tr.Dispatch(context.Background(), jsonrpc.Message{Request: note})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response for a notification, got %+v", resp)
	}
	select {
	case <-fired:
	default:
		t.Fatal("expected onMessage to fire for notification")
	}
}

func TestServerTransport_CloseUnblocksDispatch(t *testing.T) {
	tr := NewServerTransport()
	tr.OnMessage(func(msg jsonrpc.Message) {})

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(9), Method: InitializeMethod}
	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Dispatch(context.Background(), jsonrpc.Message{Request: req})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error once the session closes while dispatch is waiting")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch to unblock on close")
	}
}

func TestServerTransport_SendWithNoWaiterFails(t *testing.T) {
	tr := NewServerTransport()
	resp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Result: &jsonrpc.Result{}}
	if err := tr.Send(context.Background(), jsonrpc.Message{Response: resp}); err == nil {
		t.Fatal("expected an error sending a response nobody is waiting for")
	}
}

func TestServerTransport_MintsSessionIDOnInitialize(t *testing.T) {
	tr := NewServerTransport()
	if tr.SessionID() != "" {
		t.Fatalf("expected no session id before initialize, got %q", tr.SessionID())
	}

	var firedWith string
	tr.OnSessionInitialized(func(sessionID string) { firedWith = sessionID })
	tr.OnMessage(func(msg jsonrpc.Message) {})

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: InitializeMethod}
	go tr.Dispatch(context.Background(), jsonrpc.Message{Request: req})

	time.Sleep(10 * time.Millisecond)
	if tr.SessionID() == "" {
		t.Fatal("expected a session id to be minted by the initialize request")
	}
	if firedWith != tr.SessionID() {
		t.Fatalf("expected onSessionInitialized to fire with the minted id, got %q want %q", firedWith, tr.SessionID())
	}
}

func TestServerTransport_RejectsNonInitializeBeforeSession(t *testing.T) {
	tr := NewServerTransport()
	tr.OnMessage(func(msg jsonrpc.Message) {})

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonrpc.NewNumberID(1), Method: "tools/call"}
	_, err := tr.Dispatch(context.Background(), jsonrpc.Message{Request: req})
	if err == nil {
		t.Fatal("expected an error dispatching a non-initialize request before any session exists")
	}
}
