package config

import (
	"time"

	redisclient "github.com/vietddude/stakeplay/internal/infra/redis"
	"github.com/vietddude/stakeplay/internal/infra/storage/postgres"
)

// Ledger modes.
const (
	LedgerModeEVM       = "evm"
	LedgerModeSimulated = "simulated"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Leaderboard ServerConfig       `yaml:"leaderboard"`
	Logging     LoggingConfig      `yaml:"logging"`
	Ledger      LedgerConfig       `yaml:"ledger"`
	Sequencer   SequencerConfig    `yaml:"sequencer"`
	Indexer     IndexerConfig      `yaml:"indexer"`
	Database    postgres.Config    `yaml:"database"`
	Redis       redisclient.Config `yaml:"redis"`
	Matchmaking MatchmakingConfig  `yaml:"matchmaking"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LedgerConfig describes the settlement layer and the keys the service signs with.
type LedgerConfig struct {
	Mode              string        `yaml:"mode"` // evm, simulated
	RPCURL            string        `yaml:"rpc_url"`
	WSURL             string        `yaml:"ws_url"` // optional, enables newHeads wakeups
	ChainID           int64         `yaml:"chain_id"`
	Timeout           time.Duration `yaml:"timeout"`
	PlayGameAddress   string        `yaml:"play_game_address"`
	TokenStoreAddress string        `yaml:"token_store_address"`
	GameTokenAddress  string        `yaml:"game_token_address"`
	BackendKey        string        `yaml:"backend_key"`
	OperatorKeys      []string      `yaml:"operator_keys"` // participant keys for stakeOnBehalf

	ConfirmationPoll    time.Duration `yaml:"confirmation_poll"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	ApproveAmount       string        `yaml:"approve_amount"` // whole GT
	GiveAmount          string        `yaml:"give_amount"`    // whole GT
}

// SequencerConfig is the per-identity submission policy.
type SequencerConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// IndexerConfig controls the event projector.
type IndexerConfig struct {
	StartBlock    uint64        `yaml:"start_block"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxBlockRange uint64        `yaml:"max_block_range"`
	Confirmations uint64        `yaml:"confirmations"`
	Buffer        int           `yaml:"buffer"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// MatchmakingConfig toggles the pairing queue.
type MatchmakingConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled defaults to true when unset.
func (m MatchmakingConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}
