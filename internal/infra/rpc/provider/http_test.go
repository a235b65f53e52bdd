package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if req["method"] != "eth_blockNumber" {
			t.Errorf("unexpected method %v", req["method"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  "0x12d687",
		})
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)

	var result string
	if err := p.Call(context.Background(), &result, "eth_blockNumber"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "0x12d687" {
		t.Errorf("expected 0x12d687, got %s", result)
	}
	if !p.GetHealth().Available {
		t.Error("expected provider to be available")
	}
}

func TestHTTPProvider_CallRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "nonce too low"},
		})
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	err := p.Call(context.Background(), nil, "eth_sendRawTransaction", "0x00")

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != "nonce too low" {
		t.Errorf("unexpected rpc error: %+v", rpcErr)
	}
	if p.GetHealth().ErrorRate != 0 {
		t.Errorf("node errors should not count as transport failures, error rate %v", p.GetHealth().ErrorRate)
	}
}

func TestHTTPProvider_HTTPFailureMarksUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	for i := 0; i < 3; i++ {
		if err := p.Call(context.Background(), nil, "eth_chainId"); err == nil {
			t.Fatal("expected error")
		}
	}
	if p.GetHealth().Available {
		t.Error("expected provider to be unavailable after repeated failures")
	}
}

func TestHTTPProvider_NullResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	receipt := map[string]any{"sentinel": true}
	if err := p.Call(context.Background(), &receipt, "eth_getTransactionReceipt", "0xabc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt["sentinel"] != true {
		t.Error("null result must leave out untouched")
	}
}
