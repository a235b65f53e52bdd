package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/vietddude/stakeplay/internal/infra/redis"
)

// Ticket is a player waiting in a stake tier.
type Ticket struct {
	ID       string    `json:"id"`
	Player   string    `json:"playerAddress"`
	Stake    string    `json:"stake"`
	MatchID  string    `json:"matchId,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Queue is a FIFO of tickets per stake tier.
type Queue interface {
	Push(ctx context.Context, t *Ticket) error
	// Requeue puts a ticket back at the head of its tier.
	Requeue(ctx context.Context, t *Ticket) error
	// Pop returns the oldest ticket of the tier, nil when empty.
	Pop(ctx context.Context, stake string) (*Ticket, error)
	Len(ctx context.Context, stake string) (int, error)
}

// MemoryQueue is a best-effort, process-local queue.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][]*Ticket
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string][]*Ticket)}
}

func (q *MemoryQueue) Push(ctx context.Context, t *Ticket) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[t.Stake] = append(q.queues[t.Stake], t)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, t *Ticket) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[t.Stake] = append([]*Ticket{t}, q.queues[t.Stake]...)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, stake string) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	waiting := q.queues[stake]
	if len(waiting) == 0 {
		return nil, nil
	}
	t := waiting[0]
	q.queues[stake] = waiting[1:]
	return t, nil
}

func (q *MemoryQueue) Len(ctx context.Context, stake string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[stake]), nil
}

// RedisQueue persists tiers as Redis lists so waiting players survive restarts.
type RedisQueue struct {
	client *redisclient.Client
}

func NewRedisQueue(client *redisclient.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode ticket: %w", err)
	}
	return q.client.PushBack(ctx, t.Stake, data)
}

func (q *RedisQueue) Requeue(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode ticket: %w", err)
	}
	return q.client.PushFront(ctx, t.Stake, data)
}

func (q *RedisQueue) Pop(ctx context.Context, stake string) (*Ticket, error) {
	data, found, err := q.client.PopFront(ctx, stake)
	if err != nil || !found {
		return nil, err
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return &t, nil
}

func (q *RedisQueue) Len(ctx context.Context, stake string) (int, error) {
	return q.client.Len(ctx, stake)
}
