package raffle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory implementation of Store. It backs
// local runs without a database and the package tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	draws   map[string]Draw
	order   []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{draws: make(map[string]Draw)}
}

func (s *MemoryStore) CreateEntry(ctx context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *MemoryStore) CreateDraw(ctx context.Context, draw Draw) (Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draw.ID = uuid.NewString()
	s.draws[draw.ID] = draw
	s.order = append(s.order, draw.ID)
	return draw, nil
}

func (s *MemoryStore) GetDrawByRequestID(ctx context.Context, requestID string) (Draw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, draw := range s.draws {
		if draw.RequestID == requestID {
			return draw, nil
		}
	}
	return Draw{}, fmt.Errorf("draw not found for request: %s", requestID)
}

func (s *MemoryStore) UpdateDraw(ctx context.Context, draw Draw) (Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.draws[draw.ID]; !ok {
		return Draw{}, fmt.Errorf("draw not found: %s", draw.ID)
	}
	s.draws[draw.ID] = draw
	return draw, nil
}

func (s *MemoryStore) ListDraws(ctx context.Context, limit int) ([]Draw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Draw
	for _, id := range s.order {
		result = append(result, s.draws[id])
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// StubProvider implements RandomnessProvider for testing. Requests are
// recorded and fulfilled manually via Deliver, so tests control the
// asynchronous boundary.
type StubProvider struct {
	mu        sync.Mutex
	consumers map[string]RandomnessConsumer
	Requests  []RandomnessRequest
	LastID    string
	Err       error
}

// NewStubProvider creates a stub provider.
func NewStubProvider() *StubProvider {
	return &StubProvider{consumers: make(map[string]RandomnessConsumer)}
}

func (p *StubProvider) RequestRandomWords(ctx context.Context, consumer RandomnessConsumer, req RandomnessRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return "", p.Err
	}
	id := uuid.NewString()
	p.consumers[id] = consumer
	p.Requests = append(p.Requests, req)
	p.LastID = id
	return id, nil
}

// Deliver invokes the consumer callback for a recorded request.
func (p *StubProvider) Deliver(ctx context.Context, requestID string, words ...int64) error {
	p.mu.Lock()
	consumer, ok := p.consumers[requestID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown request: %s", requestID)
	}

	randomWords := make([]*big.Int, len(words))
	for i, w := range words {
		randomWords[i] = big.NewInt(w)
	}
	return consumer.Fulfill(ctx, requestID, randomWords)
}

// StubSink implements PayoutSink for testing with an injectable failure
// switch.
type StubSink struct {
	mu        sync.Mutex
	Fail      bool
	Transfers []StubTransfer
}

// StubTransfer records one attempted transfer.
type StubTransfer struct {
	To     string
	Amount int64
	OK     bool
}

func (s *StubSink) Transfer(ctx context.Context, to string, amount int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := !s.Fail
	s.Transfers = append(s.Transfers, StubTransfer{To: to, Amount: amount, OK: ok})
	return ok
}
