package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${ENV} references, decodes the YAML and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Leaderboard.Port == 0 {
		cfg.Leaderboard.Port = 3001
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	l := &cfg.Ledger
	if l.Mode == "" {
		l.Mode = LedgerModeEVM
	}
	if l.ChainID == 0 {
		l.ChainID = 11155111
	}
	if l.Timeout == 0 {
		l.Timeout = 30 * time.Second
	}
	if l.ConfirmationPoll == 0 {
		l.ConfirmationPoll = time.Second
	}
	if l.ConfirmationTimeout == 0 {
		l.ConfirmationTimeout = 2 * time.Minute
	}
	if l.ApproveAmount == "" {
		l.ApproveAmount = "1000"
	}
	if l.GiveAmount == "" {
		l.GiveAmount = "100"
	}

	s := &cfg.Sequencer
	if s.SettleDelay == 0 {
		s.SettleDelay = time.Second
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = 2
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = 500 * time.Millisecond
	}

	ix := &cfg.Indexer
	if ix.PollInterval == 0 {
		ix.PollInterval = 5 * time.Second
	}
	if ix.MaxBlockRange == 0 {
		ix.MaxBlockRange = 2000
	}
	if ix.Buffer == 0 {
		ix.Buffer = 64
	}
	if ix.RetryDelay == 0 {
		ix.RetryDelay = 5 * time.Second
	}
}

// Validate reports every setting the selected ledger mode cannot run without.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Ledger.Mode {
	case LedgerModeSimulated:
	case LedgerModeEVM:
		if c.Ledger.RPCURL == "" {
			errs = append(errs, errors.New("ledger.rpc_url is required"))
		}
		for name, addr := range map[string]string{
			"ledger.play_game_address":   c.Ledger.PlayGameAddress,
			"ledger.token_store_address": c.Ledger.TokenStoreAddress,
			"ledger.game_token_address":  c.Ledger.GameTokenAddress,
		} {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Errorf("%s must be a 0x address, got %q", name, addr))
			}
		}
		if strings.TrimSpace(c.Ledger.BackendKey) == "" {
			errs = append(errs, errors.New("ledger.backend_key is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.mode must be %q or %q, got %q", LedgerModeEVM, LedgerModeSimulated, c.Ledger.Mode))
	}

	if c.Server.Port != 0 && c.Server.Port == c.Leaderboard.Port {
		errs = append(errs, fmt.Errorf("server.port and leaderboard.port must differ (%d)", c.Server.Port))
	}
	if c.Sequencer.MaxAttempts < 1 {
		errs = append(errs, errors.New("sequencer.max_attempts must be at least 1"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
