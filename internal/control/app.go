// Package control wires the coordinator, projector and HTTP surfaces into one
// process and manages their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/stakeplay/internal/api"
	"github.com/vietddude/stakeplay/internal/core/config"
	"github.com/vietddude/stakeplay/internal/core/cursor"
	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/indexing/health"
	"github.com/vietddude/stakeplay/internal/indexing/projector"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
	"github.com/vietddude/stakeplay/internal/infra/ledger/evm"
	"github.com/vietddude/stakeplay/internal/infra/ledger/simulated"
	redisclient "github.com/vietddude/stakeplay/internal/infra/redis"
	"github.com/vietddude/stakeplay/internal/infra/rpc/provider"
	"github.com/vietddude/stakeplay/internal/infra/storage"
	"github.com/vietddude/stakeplay/internal/infra/storage/memory"
	"github.com/vietddude/stakeplay/internal/infra/storage/postgres"
	"github.com/vietddude/stakeplay/internal/leaderboard"
	"github.com/vietddude/stakeplay/internal/match"
	"github.com/vietddude/stakeplay/internal/matchmaking"
	"github.com/vietddude/stakeplay/internal/sequencer"
)

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg       *config.AppConfig
	store     storage.Store
	ledger    *Ledger
	seq       *sequencer.Sequencer
	coord     *match.Coordinator
	projector *projector.Projector
	runner    *projector.Runner
	cursors   cursor.Manager
	board     *leaderboard.Service
	queue     *matchmaking.Service
	redis     *redisclient.Client
	monitor   *health.Monitor
	log       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")

	// 1. Initialize Storage
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. Initialize Ledger
	l, err := OpenLedger(cfg.Ledger, cfg.Indexer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := l.VerifyOwner(ctx); err != nil {
		l.Close()
		_ = store.Close()
		return nil, err
	}

	app := &App{cfg: cfg, store: store, ledger: l, log: log}
	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	approve, err := domain.ParseTokenAmount(cfg.Ledger.ApproveAmount)
	if err != nil {
		return fmt.Errorf("ledger.approve_amount: %w", err)
	}
	give, err := domain.ParseTokenAmount(cfg.Ledger.GiveAmount)
	if err != nil {
		return fmt.Errorf("ledger.give_amount: %w", err)
	}

	// 3. Sequencer and Coordinator
	a.seq = sequencer.New(a.ledger.Client, sequencer.Policy{
		MaxAttempts: cfg.Sequencer.MaxAttempts,
		Delay:       sequencer.ConstantDelay(cfg.Sequencer.RetryDelay),
		SettleDelay: cfg.Sequencer.SettleDelay,
	})
	a.coord = match.New(a.ledger.Client, a.ledger.Client, a.seq, a.store.Matches(), match.Config{
		Backend:       a.ledger.Backend,
		ApproveAmount: approve,
		GiveAmount:    give,
	})

	// 4. Projector
	a.cursors = cursor.NewManager(a.store.Cursors())
	a.projector = projector.New(a.store)
	a.runner = projector.NewRunner(a.ledger.Client,
		ledger.NewLogDecoder(a.ledger.Game, a.ledger.Store),
		a.projector,
		a.cursors,
		projector.RunnerConfig{
			StartBlock: cfg.Indexer.StartBlock,
			Buffer:     cfg.Indexer.Buffer,
			RetryDelay: cfg.Indexer.RetryDelay,
			Contracts:  []common.Address{a.ledger.Game, a.ledger.Store},
		})
	a.board = leaderboard.New(a.store.Players())
	a.monitor = health.NewMonitor(health.Info{
		Network: a.ledger.Network,
		Backend: a.ledger.Backend.Hex(),
	}, a.ledger.Client, a.cursors, a.runner)

	// 5. Matchmaking
	if cfg.Matchmaking.IsEnabled() {
		var queue matchmaking.Queue = matchmaking.NewMemoryQueue()
		if cfg.Redis.URL != "" {
			client, err := redisclient.NewClient(cfg.Redis)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			a.redis = client
			queue = matchmaking.NewRedisQueue(client)
			a.log.Info("Using Redis matchmaking queue")
		}
		a.queue = matchmaking.NewService(queue, a.coord)
	}

	return nil
}

// Start launches the projector and both HTTP servers in the background.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return errors.New("app already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	if a.ledger.Heads != nil {
		g.Go(func() error { return a.ledger.Heads.Run(gctx) })
	}
	g.Go(func() error { return a.runner.Run(gctx) })
	g.Go(func() error {
		return api.ListenAndServe(gctx, api.Addr(a.cfg.Server.Port), a.Handler())
	})
	g.Go(func() error {
		return api.ListenAndServe(gctx, api.Addr(a.cfg.Leaderboard.Port), a.LeaderboardHandler())
	})

	a.log.Info("Stakeplay started",
		"ledger", a.ledger.Network,
		"backend", a.ledger.Backend.Hex(),
		"port", a.cfg.Server.Port,
		"leaderboard_port", a.cfg.Leaderboard.Port,
		"matchmaking", a.queue != nil,
	)
	return nil
}

// Wait blocks until a component fails or the app is stopped.
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop stops every component, waits for in-flight submissions to be recorded
// and closes connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping Stakeplay...")

	a.mu.Lock()
	cancel, g := a.cancel, a.group
	a.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	a.seq.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	a.ledger.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close store", "error", err)
	}
}

// Handler is the coordinator API.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.coord, a.queue, a.monitor).Router()
}

// LeaderboardHandler is the leaderboard API.
func (a *App) LeaderboardHandler() http.Handler {
	return api.NewLeaderboardServer(a.board).Router()
}

func (a *App) Coordinator() *match.Coordinator { return a.coord }
func (a *App) Monitor() *health.Monitor        { return a.monitor }

// -----------------------------------------------------------------------------
// Storage
// -----------------------------------------------------------------------------

// OpenStore connects to PostgreSQL and migrates it, or returns an in-memory
// store when no database URL is configured.
func OpenStore(ctx context.Context, cfg postgres.Config) (storage.Store, error) {
	if cfg.URL == "" {
		slog.Info("Using Memory storage")
		return memory.NewMemoryStorage(), nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("Using PostgreSQL storage")
	return db, nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

// SimulatedSupply is minted to the backend identity of a simulated ledger.
var SimulatedSupply = new(big.Int).Mul(big.NewInt(1_000_000), simulated.DefaultRate)

// SimulatedOperatorGrant is minted to every operator identity of a simulated ledger.
var SimulatedOperatorGrant = new(big.Int).Mul(big.NewInt(100), simulated.DefaultRate)

// simulatedBackend is used when a simulated ledger has no backend key.
var simulatedBackend = common.HexToAddress("0x000000000000000000000000000000000000bac0")

// Ledger is a connected ledger client and its deployment.
type Ledger struct {
	Client  ledger.Client
	Backend common.Address
	Game    common.Address
	Store   common.Address
	Network string
	// Heads is nil unless a websocket endpoint is configured.
	Heads *evm.HeadWatcher

	provider *provider.HTTPProvider
	evm      bool
}

// OpenLedger builds the ledger client for the configured mode. Keys are
// optional so read-only commands can run without them.
func OpenLedger(cfg config.LedgerConfig, ix config.IndexerConfig) (*Ledger, error) {
	keys, err := evm.NewKeyring(append([]string{cfg.BackendKey}, cfg.OperatorKeys...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	// Empty keys are skipped, so the primary is the backend only when one is set.
	var backend common.Address
	hasBackend := strings.TrimSpace(cfg.BackendKey) != ""
	if hasBackend {
		backend, _ = keys.Primary()
	}

	if cfg.Mode == config.LedgerModeSimulated {
		if !hasBackend {
			backend = simulatedBackend
		}
		sim := simulated.New(backend)
		sim.Mint(backend, SimulatedSupply)
		for _, addr := range keys.Addresses() {
			if addr == backend {
				continue
			}
			sim.AddSigner(addr)
			sim.Mint(addr, SimulatedOperatorGrant)
		}
		return &Ledger{
			Client:  sim,
			Backend: backend,
			Game:    simulated.GameAddress,
			Store:   simulated.StoreAddress,
			Network: config.LedgerModeSimulated,
		}, nil
	}

	evmCfg := evm.Config{
		ChainID:             cfg.ChainID,
		GameAddress:         common.HexToAddress(cfg.PlayGameAddress),
		StoreAddress:        common.HexToAddress(cfg.TokenStoreAddress),
		TokenAddress:        common.HexToAddress(cfg.GameTokenAddress),
		ConfirmationPoll:    cfg.ConfirmationPoll,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		PollInterval:        ix.PollInterval,
		MaxBlockRange:       ix.MaxBlockRange,
		Confirmations:       ix.Confirmations,
	}
	rpc := provider.NewHTTPProvider("ledger", cfg.RPCURL, cfg.Timeout)

	var (
		heads  *evm.HeadWatcher
		headCh <-chan uint64
	)
	if cfg.WSURL != "" {
		heads = evm.NewHeadWatcher(cfg.WSURL)
		headCh = heads.C()
	}

	return &Ledger{
		Client:   evm.NewClient(rpc, evmCfg, keys, headCh),
		Backend:  backend,
		Game:     evmCfg.GameAddress,
		Store:    evmCfg.StoreAddress,
		Network:  cfg.RPCURL,
		Heads:    heads,
		provider: rpc,
		evm:      true,
	}, nil
}

// VerifyOwner refuses to run an evm ledger whose settlement contract is not
// owned by the backend identity.
func (l *Ledger) VerifyOwner(ctx context.Context) error {
	if !l.evm {
		return nil
	}
	owner, err := l.Client.Owner(ctx)
	if err != nil {
		return fmt.Errorf("failed to read contract owner: %w", err)
	}
	if owner != l.Backend {
		return fmt.Errorf("backend %s is not the owner of %s (owner %s)",
			l.Backend.Hex(), l.Game.Hex(), owner.Hex())
	}
	return nil
}

// Close releases the transport.
func (l *Ledger) Close() {
	if l.provider != nil {
		_ = l.provider.Close()
	}
}
