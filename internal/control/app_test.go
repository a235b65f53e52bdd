package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/stakeplay/internal/core/config"
	"github.com/vietddude/stakeplay/internal/infra/ledger/evm"
)

// Well-known development keys.
const (
	aliceKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey   = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

func simulatedConfig() *config.AppConfig {
	return &config.AppConfig{
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
		Ledger: config.LedgerConfig{
			Mode:          config.LedgerModeSimulated,
			OperatorKeys:  []string{aliceKey, bobKey},
			ApproveAmount: "1000",
			GiveAmount:    "100",
		},
		Sequencer: config.SequencerConfig{MaxAttempts: 2, RetryDelay: time.Millisecond},
		Indexer:   config.IndexerConfig{RetryDelay: 10 * time.Millisecond},
	}
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
	return rec
}

func get(t *testing.T, h http.Handler, path string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestApp_Lifecycle(t *testing.T) {
	_, alice, err := evm.ParseKey(aliceKey)
	require.NoError(t, err)
	_, bob, err := evm.ParseKey(bobKey)
	require.NoError(t, err)

	ctx := context.Background()
	app, err := NewApp(ctx, simulatedConfig())
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))
	assert.Error(t, app.Start(ctx), "second start must fail")

	h := app.Handler()
	rec := post(t, h, "/match/start", map[string]any{
		"matchId": "M1", "player1": alice.Hex(), "player2": bob.Hex(), "stake": "10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, p := range []string{alice.Hex(), bob.Hex()} {
		rec = post(t, h, "/match/stake", map[string]any{"matchId": "M1", "player": p})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = post(t, h, "/match/result", map[string]any{"matchId": "M1", "winner": alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	board := app.LeaderboardHandler()
	require.Eventually(t, func() bool {
		stats := get(t, board, "/player/"+alice.Hex())
		return stats["total_wins"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)

	view := get(t, h, "/match/M1")
	assert.Equal(t, "SETTLED", view["status"])
	assert.Equal(t, alice.Hex(), view["winner"])

	report := app.Monitor().CheckHealth(ctx)
	assert.True(t, report.ProjectorRunning)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(stopCtx))
}

func TestApp_SimulatedBalances(t *testing.T) {
	_, alice, err := evm.ParseKey(aliceKey)
	require.NoError(t, err)

	app, err := NewApp(context.Background(), simulatedConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(context.Background()) })

	h := app.Handler()
	assert.Equal(t, "100", get(t, h, "/balance/"+alice.Hex())["balance"])
	assert.Equal(t, "1000000", get(t, h, "/backend-balance")["balance"])
	assert.Equal(t, simulatedBackend.Hex(), app.Coordinator().Backend().Hex())
}

func TestApp_InvalidAmounts(t *testing.T) {
	cfg := simulatedConfig()
	cfg.Ledger.ApproveAmount = "lots"
	_, err := NewApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenLedger_BackendKey(t *testing.T) {
	cfg := simulatedConfig().Ledger
	cfg.BackendKey = aliceKey
	l, err := OpenLedger(cfg, config.IndexerConfig{})
	require.NoError(t, err)
	_, alice, _ := evm.ParseKey(aliceKey)
	assert.Equal(t, alice, l.Backend)
	assert.NoError(t, l.VerifyOwner(context.Background()))
}

func TestOpenLedger_EVM(t *testing.T) {
	cfg := config.LedgerConfig{
		Mode:            config.LedgerModeEVM,
		RPCURL:          "http://127.0.0.1:1",
		PlayGameAddress: "0x00000000000000000000000000000000000000a1",
		BackendKey:      aliceKey,
		Timeout:         time.Second,
	}
	l, err := OpenLedger(cfg, config.IndexerConfig{})
	require.NoError(t, err)
	defer l.Close()
	assert.Nil(t, l.Heads)
	assert.Error(t, l.VerifyOwner(context.Background()))

	cfg.WSURL = "ws://127.0.0.1:1"
	l, err = OpenLedger(cfg, config.IndexerConfig{})
	require.NoError(t, err)
	assert.NotNil(t, l.Heads)

	cfg.OperatorKeys = []string{"not-a-key"}
	_, err = OpenLedger(cfg, config.IndexerConfig{})
	assert.Error(t, err)
}
