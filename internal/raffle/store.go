package raffle

import (
	"context"
	"math/big"
)

// Store defines the persistence interface for raffle history. The
// engine's in-memory state is authoritative; the store keeps the audit
// trail of entries and draws.
type Store interface {
	// Entry operations
	CreateEntry(ctx context.Context, entry Entry) (Entry, error)
	ListEntries(ctx context.Context, limit int) ([]Entry, error)

	// Draw operations
	CreateDraw(ctx context.Context, draw Draw) (Draw, error)
	GetDrawByRequestID(ctx context.Context, requestID string) (Draw, error)
	UpdateDraw(ctx context.Context, draw Draw) (Draw, error)
	ListDraws(ctx context.Context, limit int) ([]Draw, error)
}

// RandomnessConsumer receives the asynchronous fulfillment callback for
// a previously issued randomness request.
type RandomnessConsumer interface {
	Fulfill(ctx context.Context, requestID string, randomWords []*big.Int) error
}

// RandomnessProvider issues randomness requests. The request identifier
// is returned synchronously and must be unique per call; the random
// words arrive later through the consumer's Fulfill.
type RandomnessProvider interface {
	RequestRandomWords(ctx context.Context, consumer RandomnessConsumer, req RandomnessRequest) (string, error)
}

// PayoutSink moves a prize to an address. Transfer never raises:
// failure is reported through the boolean so the engine can apply its
// rollback semantics.
type PayoutSink interface {
	Transfer(ctx context.Context, to string, amount int64) bool
}

// EventPublisher emits observable raffle events.
type EventPublisher interface {
	Publish(eventType string, data map[string]any)
}
