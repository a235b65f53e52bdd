// Package sequencer serializes ledger writes per signing identity.
//
// Each identity has a lane that admits one operation at a time. The ordering
// counter is fetched right before every submission and never reused across a
// delay. Once an operation holds the lane it runs to completion on a detached
// context, so its outcome is recorded even if the caller goes away.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/indexing/metrics"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

// ErrSequencingFailure is returned when the ledger keeps rejecting the ordering
// counter after the allowed retries.
var ErrSequencingFailure = errors.New("sequencing failure")

// State is the per-identity sequence state.
type State struct {
	Identity  common.Address
	LastNonce uint64
	HasNonce  bool
	Pending   bool
	Confirmed bool
	Submitted int
}

type lane struct {
	sem   chan struct{}
	state State
}

// Sequencer implements per-identity ordered submission.
type Sequencer struct {
	writer ledger.Writer
	policy Policy
	log    *slog.Logger

	mu    sync.Mutex
	lanes map[common.Address]*lane
	wg    sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration)
}

// New creates a sequencer over writer.
func New(writer ledger.Writer, policy Policy) *Sequencer {
	return &Sequencer{
		writer: writer,
		policy: policy.normalized(),
		log:    slog.Default().With("component", "sequencer"),
		lanes:  make(map[common.Address]*lane),
		sleep:  sleepCtx,
	}
}

type outcome struct {
	receipt *ledger.Receipt
	err     error
}

// Enqueue submits op under identity and blocks until it is confirmed or judged
// failed. A caller may stop waiting by cancelling ctx; an operation that
// already holds the lane still completes and its outcome is recorded.
func (s *Sequencer) Enqueue(ctx context.Context, identity common.Address, op ledger.Operation) (*ledger.Receipt, error) {
	if !s.writer.CanSign(identity) {
		return nil, fmt.Errorf("%s as %s: %w", op.Label(), identity.Hex(), ledger.ErrNoSigner)
	}

	l := s.lane(identity)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s as %s: waiting for lane: %w", op.Label(), identity.Hex(), ctx.Err())
	}

	done := make(chan outcome, 1)
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		receipt, err := s.run(detached, identity, l, op)
		done <- outcome{receipt: receipt, err: err}
		if err == nil && s.policy.SettleDelay > 0 {
			s.sleep(detached, s.policy.SettleDelay)
		}
		<-l.sem
	}()

	select {
	case res := <-done:
		return res.receipt, res.err
	case <-ctx.Done():
		s.log.Warn("Caller left before confirmation, outcome will still be recorded",
			"identity", identity.Hex(), "op", op.Label())
		return nil, fmt.Errorf("%s as %s: %w", op.Label(), identity.Hex(), ctx.Err())
	}
}

// State returns a snapshot of identity's sequence state.
func (s *Sequencer) State(identity common.Address) State {
	l := s.lane(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.state
}

// Wait blocks until every in-flight operation has finished.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

func (s *Sequencer) lane(identity common.Address) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[identity]
	if !ok {
		l = &lane{sem: make(chan struct{}, 1), state: State{Identity: identity}}
		s.lanes[identity] = l
	}
	return l
}

func (s *Sequencer) update(l *lane, fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&l.state)
}

// run executes op while holding identity's lane.
func (s *Sequencer) run(ctx context.Context, identity common.Address, l *lane, op ledger.Operation) (*ledger.Receipt, error) {
	log := s.log.With("identity", identity.Hex(), "op", op.Label())
	id := identity.Hex()

	for attempt := 1; ; attempt++ {
		nonce, err := s.nextNonce(ctx, identity, l)
		if err != nil {
			metrics.TxSubmitted.WithLabelValues(id, string(op.Kind), "failed").Inc()
			log.Error("Failed to fetch ordering counter", "error", err)
			return nil, fmt.Errorf("%s as %s: fetch nonce: %w", op.Label(), id, err)
		}

		handle, err := s.writer.Submit(ctx, identity, op, nonce)
		if errors.Is(err, ledger.ErrNonceConflict) {
			metrics.NonceRetries.WithLabelValues(id).Inc()
			// Local view is stale; trust the ledger on the next attempt.
			s.update(l, func(st *State) { st.HasNonce = false })
			if attempt >= s.policy.MaxAttempts {
				metrics.TxSubmitted.WithLabelValues(id, string(op.Kind), "conflict").Inc()
				log.Error("Ordering counter conflict persisted", "nonce", nonce, "attempts", attempt, "error", err)
				return nil, fmt.Errorf("%s as %s: %w after %d attempts: %w", op.Label(), id, ErrSequencingFailure, attempt, err)
			}
			delay := s.policy.Delay(attempt)
			log.Warn("Ordering counter conflict, retrying", "nonce", nonce, "attempt", attempt, "delay", delay)
			s.sleep(ctx, delay)
			continue
		}
		if err != nil {
			metrics.TxSubmitted.WithLabelValues(id, string(op.Kind), outcomeLabel(err)).Inc()
			log.Error("Submission failed", "nonce", nonce, "error", err)
			return nil, fmt.Errorf("%s as %s: %w", op.Label(), id, err)
		}

		submittedAt := time.Now()
		s.update(l, func(st *State) {
			st.LastNonce = nonce
			st.HasNonce = true
			st.Pending = true
			st.Confirmed = false
			st.Submitted++
		})
		log.Info("Operation submitted", "nonce", nonce, "tx", handle.TxHash.Hex())

		receipt, err := s.writer.AwaitConfirmation(ctx, handle)
		s.update(l, func(st *State) {
			st.Pending = false
			st.Confirmed = err == nil
			// A mined revert consumes the counter. Otherwise the tx may have
			// been dropped, so the next submission trusts the ledger.
			if _, rejected := ledger.IsRejected(err); err != nil && !rejected {
				st.HasNonce = false
			}
		})
		if err != nil {
			metrics.TxSubmitted.WithLabelValues(id, string(op.Kind), outcomeLabel(err)).Inc()
			log.Error("Operation not confirmed", "nonce", nonce, "tx", handle.TxHash.Hex(), "error", err)
			return nil, fmt.Errorf("%s as %s: tx %s: %w", op.Label(), id, handle.TxHash.Hex(), err)
		}

		metrics.TxSubmitted.WithLabelValues(id, string(op.Kind), "confirmed").Inc()
		metrics.TxConfirmLatency.WithLabelValues(string(op.Kind)).Observe(time.Since(submittedAt).Seconds())
		log.Info("Operation confirmed", "nonce", nonce, "tx", handle.TxHash.Hex(), "block", receipt.BlockNumber)
		return receipt, nil
	}
}

// nextNonce asks the ledger and never goes below the last counter this
// process submitted, so a lagging node cannot hand out a used counter.
func (s *Sequencer) nextNonce(ctx context.Context, identity common.Address, l *lane) (uint64, error) {
	nonce, err := s.writer.NextNonce(ctx, identity)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.state.HasNonce && l.state.LastNonce+1 > nonce {
		nonce = l.state.LastNonce + 1
	}
	return nonce, nil
}

func outcomeLabel(err error) string {
	if _, ok := ledger.IsRejected(err); ok {
		return "rejected"
	}
	return "failed"
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
