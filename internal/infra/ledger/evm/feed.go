package evm

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

type rpcHeader struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// Subscribe polls eth_getLogs in ranges of at most MaxBlockRange blocks, up to
// the head minus Confirmations. It wakes on the poll interval or on a new head
// from the head watcher.
func (c *Client) Subscribe(ctx context.Context, filter ledger.Filter, out chan<- ledger.Batch) error {
	next := filter.FromBlock
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		head, err := c.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("get head: %w", err)
		}
		head = c.safeBlock(head)

		for next <= head {
			to := next + c.cfg.MaxBlockRange - 1
			if to > head {
				to = head
			}
			logs, err := c.getLogs(ctx, filter, next, to)
			if err != nil {
				return fmt.Errorf("get logs [%d, %d]: %w", next, to, err)
			}
			select {
			case out <- ledger.Batch{FromBlock: next, ToBlock: to, Logs: logs}:
			case <-ctx.Done():
				return ctx.Err()
			}
			next = to + 1
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.heads:
		}
	}
}

func (c *Client) getLogs(ctx context.Context, filter ledger.Filter, from, to uint64) ([]ledger.RawLog, error) {
	query := map[string]any{
		"fromBlock": hexutil.Uint64(from),
		"toBlock":   hexutil.Uint64(to),
	}
	if len(filter.Contracts) > 0 {
		query["address"] = filter.Contracts
	}
	if len(filter.Events) > 0 {
		ids := make([]common.Hash, len(filter.Events))
		for i, t := range filter.Events {
			ids[i] = ledger.EventID(t)
		}
		query["topics"] = [][]common.Hash{ids}
	}

	var logs []rpcLog
	if err := c.rpc.Call(ctx, &logs, "eth_getLogs", query); err != nil {
		return nil, ledger.Classify(err)
	}

	times := make(map[uint64]time.Time)
	out := make([]ledger.RawLog, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		n := uint64(l.BlockNumber)
		ts, ok := times[n]
		if !ok {
			var err error
			if ts, err = c.blockTime(ctx, n); err != nil {
				return nil, err
			}
			times[n] = ts
		}
		out = append(out, ledger.RawLog{
			Contract:    l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: n,
			BlockTime:   ts,
			TxHash:      l.TxHash,
			LogIndex:    uint(l.LogIndex),
		})
	}
	return out, nil
}

func (c *Client) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	var h *rpcHeader
	if err := c.rpc.Call(ctx, &h, "eth_getBlockByNumber", hexutil.Uint64(number), false); err != nil {
		return time.Time{}, ledger.Classify(err)
	}
	if h == nil {
		return time.Time{}, fmt.Errorf("%w: block %d not found", ledger.ErrTransient, number)
	}
	return time.Unix(int64(h.Timestamp), 0).UTC(), nil
}

// safeBlock is the latest block with enough confirmations.
func (c *Client) safeBlock(head uint64) uint64 {
	if head < c.cfg.Confirmations {
		return 0
	}
	return head - c.cfg.Confirmations
}
