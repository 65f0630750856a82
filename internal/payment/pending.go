package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var ErrPendingNotFound = errors.New("pending payment not found")

// PendingPayment is the manual gateway's local bookkeeping for one payment.
type PendingPayment struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// PendingTable stores PendingPayment entries for a bounded lifetime.
type PendingTable interface {
	Put(ctx context.Context, p PendingPayment, keep time.Duration) error
	Get(ctx context.Context, paymentID string) (*PendingPayment, error)
}

type memoryEntry struct {
	payment  PendingPayment
	deadline time.Time
}

// MemoryPendingTable is a process-local PendingTable. Entries are dropped
// lazily once their lifetime has passed.
type MemoryPendingTable struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryPendingTable() *MemoryPendingTable {
	return &MemoryPendingTable{entries: make(map[string]memoryEntry), now: time.Now}
}

func (t *MemoryPendingTable) Put(_ context.Context, p PendingPayment, keep time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	t.entries[p.PaymentID] = memoryEntry{payment: p, deadline: t.now().Add(keep)}
	return nil
}

func (t *MemoryPendingTable) Get(_ context.Context, paymentID string) (*PendingPayment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[paymentID]
	if !ok || !t.now().Before(e.deadline) {
		delete(t.entries, paymentID)
		return nil, ErrPendingNotFound
	}
	p := e.payment
	return &p, nil
}

func (t *MemoryPendingTable) evictLocked() {
	now := t.now()
	for id, e := range t.entries {
		if !now.Before(e.deadline) {
			delete(t.entries, id)
		}
	}
}

// RedisPendingTable keeps entries in Redis with a TTL, so they survive
// restarts and are shared between replicas.
type RedisPendingTable struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPendingTable(rdb *redis.Client) *RedisPendingTable {
	return &RedisPendingTable{rdb: rdb, prefix: "manual_payment:"}
}

func (t *RedisPendingTable) Put(ctx context.Context, p PendingPayment, keep time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending payment: %w", err)
	}
	if err := t.rdb.Set(ctx, t.prefix+p.PaymentID, data, keep).Err(); err != nil {
		return fmt.Errorf("failed to store pending payment: %w", err)
	}
	return nil
}

func (t *RedisPendingTable) Get(ctx context.Context, paymentID string) (*PendingPayment, error) {
	data, err := t.rdb.Get(ctx, t.prefix+paymentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending payment: %w", err)
	}
	var p PendingPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending payment: %w", err)
	}
	return &p, nil
}
