package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/cursor"
	"github.com/vietddude/stakeplay/internal/indexing/metrics"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

// errFeedClosed is reported when a subscription ends without an error.
var errFeedClosed = errors.New("feed closed")

// RunnerConfig holds runner settings.
type RunnerConfig struct {
	// StartBlock is the first block consumed when no cursor is stored. The
	// genesis block carries no logs, so 0 and 1 are equivalent.
	StartBlock uint64
	// Buffer is the capacity of the batch channel between feed and projector.
	Buffer int
	// RetryDelay is the pause before resubscribing after a feed failure.
	RetryDelay time.Duration
	Contracts  []common.Address
}

// Status is a snapshot of the runner.
type Status struct {
	Running      bool      `json:"running"`
	Cursor       uint64    `json:"cursor"`
	LastBatchAt  time.Time `json:"lastBatchAt,omitzero"`
	Resubscribes int       `json:"resubscribes"`
	LastError    string    `json:"lastError,omitempty"`
}

// Runner is the single consumer of the ledger feed. It records every log of a
// batch before checkpointing the batch's last block, and resumes from the
// checkpoint after any failure.
type Runner struct {
	feed      ledger.Feed
	decoder   *ledger.LogDecoder
	projector *Projector
	cursors   cursor.Manager
	cfg       RunnerConfig
	log       *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	status  Status
}

// NewRunner creates a runner.
func NewRunner(feed ledger.Feed, decoder *ledger.LogDecoder, p *Projector, cursors cursor.Manager, cfg RunnerConfig) *Runner {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Runner{
		feed:      feed,
		decoder:   decoder,
		projector: p,
		cursors:   cursors,
		cfg:       cfg,
		log:       slog.Default().With("component", "projector-runner"),
	}
}

// Run consumes the feed until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("projector already running")
	}
	defer r.running.Store(false)
	r.setStatus(func(s *Status) { s.Running = true })
	defer r.setStatus(func(s *Status) { s.Running = false })

	if _, err := r.projector.Replay(ctx, 0); err != nil {
		return fmt.Errorf("failed to replay unprojected events: %w", err)
	}

	// The cursor stores the last recorded block, so consumption starts after it.
	initial := r.cfg.StartBlock
	if initial > 0 {
		initial--
	}
	c, err := r.cursors.Initialize(ctx, cursor.StreamProjector, initial)
	if err != nil {
		return fmt.Errorf("failed to initialize cursor: %w", err)
	}
	r.setStatus(func(s *Status) { s.Cursor = c.BlockNumber })
	from := c.BlockNumber + 1

	r.log.Info("Projector started", "from_block", from)

	for {
		err := r.consume(ctx, from)
		if ctx.Err() != nil {
			r.log.Info("Projector stopped")
			return nil
		}

		r.log.Warn("Feed interrupted, resuming from checkpoint",
			"error", err, "retry_in", r.cfg.RetryDelay)
		r.setStatus(func(s *Status) {
			s.Resubscribes++
			s.LastError = err.Error()
		})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.RetryDelay):
		}

		c, err := r.cursors.Get(ctx, cursor.StreamProjector)
		if err != nil {
			r.log.Error("Failed to read cursor", "error", err)
			continue
		}
		from = c.BlockNumber + 1
	}
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Runner) consume(ctx context.Context, from uint64) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan ledger.Batch, r.cfg.Buffer)
	done := make(chan error, 1)
	go func() {
		done <- r.feed.Subscribe(subCtx, ledger.Filter{
			FromBlock: from,
			Contracts: r.cfg.Contracts,
			Events:    ledger.AllEvents(),
		}, batches)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-batches:
			if err := r.process(ctx, b); err != nil {
				return err
			}
		case err := <-done:
			// Batches delivered before the failure are complete ranges.
			for {
				select {
				case b := <-batches:
					if perr := r.process(ctx, b); perr != nil {
						return perr
					}
				default:
					if err == nil {
						err = errFeedClosed
					}
					return err
				}
			}
		}
	}
}

// process records and applies every log of b, then checkpoints b.ToBlock.
func (r *Runner) process(ctx context.Context, b ledger.Batch) error {
	for _, raw := range b.Logs {
		if raw.Removed {
			continue
		}
		ev, err := r.decoder.Decode(raw)
		if err != nil {
			// The checkpoint stays before this block until the log decodes.
			r.log.Error("Undecodable log, holding checkpoint",
				"tx", raw.TxHash.Hex(), "log_index", raw.LogIndex, "block", raw.BlockNumber, "error", err)
			return fmt.Errorf("failed to decode log in block %d: %w", raw.BlockNumber, err)
		}
		if ev == nil {
			continue
		}
		if _, err := r.projector.Handle(ctx, ev); err != nil {
			return err
		}
	}

	if err := r.cursors.Advance(ctx, cursor.StreamProjector, b.ToBlock); err != nil {
		return fmt.Errorf("failed to checkpoint block %d: %w", b.ToBlock, err)
	}
	metrics.IndexerLatestBlock.Set(float64(b.ToBlock))
	r.setStatus(func(s *Status) {
		if b.ToBlock > s.Cursor {
			s.Cursor = b.ToBlock
		}
		s.LastBatchAt = time.Now()
	})
	r.log.Debug("Checkpointed batch", "from", b.FromBlock, "to", b.ToBlock, "logs", len(b.Logs))
	return nil
}

func (r *Runner) setStatus(fn func(s *Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}
