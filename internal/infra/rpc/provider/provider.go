// Package provider implements JSON-RPC transport to the ledger node.
package provider

import (
	"context"
	"fmt"
	"time"
)

// RPCProvider is a JSON-RPC endpoint.
type RPCProvider interface {
	// GetName returns provider identifier (e.g., "alchemy", "infura")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// Call makes a single RPC request and decodes the result into out.
	Call(ctx context.Context, out any, method string, params ...any) error

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if s, ok := e.Data.(string); ok && s != "" && s != "0x" {
		return fmt.Sprintf("rpc error: %s (%d): %s", e.Message, e.Code, s)
	}
	return fmt.Sprintf("rpc error: %s", e.Message)
}
