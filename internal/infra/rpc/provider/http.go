package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/stakeplay/internal/indexing/metrics"
)

// HTTPProvider implements RPCProvider for JSON-RPC over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call makes a single JSON-RPC call. A null result leaves out untouched.
func (p *HTTPProvider) Call(ctx context.Context, out any, method string, params ...any) error {
	start := time.Now()
	if params == nil {
		params = []any{}
	}

	jsonData, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      p.nextID.Add(1),
	})
	if err != nil {
		p.recordFailure(method, "marshal")
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.recordFailure(method, "request")
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure(method, "network")
		return fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure(method, "read")
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		p.recordFailure(method, "rate_limited")
		return fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		p.recordFailure(method, "http")
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure(method, "parse")
		return fmt.Errorf("parse response: %w", err)
	}

	// Node-side errors are answers, not transport failures.
	p.recordSuccess(method, time.Since(start))

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(method string, latency time.Duration) {
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()
	metrics.RPCLatency.WithLabelValues(p.name, method).Observe(latency.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
	if p.successCount > 0 {
		p.health.Latency = p.totalLatency / time.Duration(p.successCount)
	}
}

func (p *HTTPProvider) recordFailure(method, errorType string) {
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()
	metrics.RPCErrorsTotal.WithLabelValues(p.name, errorType).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
