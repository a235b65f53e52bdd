package simulated

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

// Subscribe delivers one batch per wake-up covering every block mined since
// the previous batch.
func (l *Ledger) Subscribe(ctx context.Context, filter ledger.Filter, out chan<- ledger.Batch) error {
	next := filter.FromBlock
	match := matcher(filter)

	for {
		l.mu.Lock()
		if err := l.feedErr; err != nil {
			l.feedErr = nil
			l.mu.Unlock()
			return err
		}
		head := l.head()
		wait := l.notify
		var batch *ledger.Batch
		if next <= head {
			batch = &ledger.Batch{FromBlock: next, ToBlock: head}
			for _, b := range l.blocks[next:] {
				for _, raw := range b.logs {
					if match(raw) {
						batch.Logs = append(batch.Logs, raw)
					}
				}
			}
		}
		l.mu.Unlock()

		if batch != nil {
			select {
			case out <- *batch:
				next = batch.ToBlock + 1
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func matcher(f ledger.Filter) func(ledger.RawLog) bool {
	contracts := make(map[common.Address]bool, len(f.Contracts))
	for _, c := range f.Contracts {
		contracts[c] = true
	}
	topics := make(map[common.Hash]bool, len(f.Events))
	for _, t := range f.Events {
		topics[ledger.EventID(t)] = true
	}
	return func(raw ledger.RawLog) bool {
		if len(contracts) > 0 && !contracts[raw.Contract] {
			return false
		}
		if len(topics) > 0 && (len(raw.Topics) == 0 || !topics[raw.Topics[0]]) {
			return false
		}
		return true
	}
}
