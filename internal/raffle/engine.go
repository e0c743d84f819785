package raffle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Config configures a raffle engine instance.
type Config struct {
	// Required fields
	EntranceFee int64
	Interval    time.Duration
	Provider    RandomnessProvider
	Sink        PayoutSink

	// Optional fields
	Randomness RandomnessConfig
	Store      Store
	Events     EventPublisher
	Logger     *logger.Logger
}

// Engine owns the participant list, the pool balance and the raffle
// state. Every operation is serialized under the engine mutex: an
// operation runs to completion or leaves no visible state change.
//
// The only asynchronous boundary is between TriggerSelection issuing a
// request and the provider invoking Fulfill later. The open/calculating
// gate guarantees at most one request is outstanding, so no two
// selection cycles can race over the same pool.
type Engine struct {
	mu sync.RWMutex

	entranceFee int64
	interval    time.Duration
	randomness  RandomnessConfig

	provider RandomnessProvider
	sink     PayoutSink
	store    Store
	events   EventPublisher
	log      *logger.Logger
	now      func() time.Time

	state            State
	players          []string
	poolBalance      int64
	lastTimestamp    time.Time
	recentWinner     string
	pendingRequestID string
}

// New constructs a raffle engine in the open state.
func New(cfg Config) (*Engine, error) {
	if cfg.EntranceFee <= 0 {
		return nil, fmt.Errorf("entrance fee must be positive, got %d", cfg.EntranceFee)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("randomness provider is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("payout sink is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("raffle")
	}

	e := &Engine{
		entranceFee: cfg.EntranceFee,
		interval:    cfg.Interval,
		randomness:  cfg.Randomness,
		provider:    cfg.Provider,
		sink:        cfg.Sink,
		store:       cfg.Store,
		events:      cfg.Events,
		log:         cfg.Logger,
		now:         time.Now,
		state:       StateOpen,
	}
	e.lastTimestamp = e.now().UTC()
	return e, nil
}

// Enter admits a paid entry. The same address may enter multiple times;
// each entry occupies its own slot and weights the winner selection.
func (e *Engine) Enter(ctx context.Context, sender string, amount int64) error {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return fmt.Errorf("sender address is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if amount < e.entranceFee {
		metrics.RecordEntryRejected("insufficient_fee")
		return ErrInsufficientEntranceFee
	}
	if e.state != StateOpen {
		metrics.RecordEntryRejected("not_open")
		return ErrRaffleNotOpen
	}

	e.players = append(e.players, sender)
	e.poolBalance += amount

	if e.store != nil {
		entry := Entry{Address: sender, Amount: amount, EnteredAt: e.now().UTC()}
		if _, err := e.store.CreateEntry(ctx, entry); err != nil {
			e.log.WithError(err).Warn("failed to record entry")
		}
	}

	e.log.WithField("address", sender).
		WithField("amount", amount).
		WithField("players", len(e.players)).
		Info("entrant joined")
	e.publish(events.TypeEntrantJoined, map[string]any{
		"address":      sender,
		"amount":       amount,
		"player_count": len(e.players),
	})
	metrics.RecordEntry(len(e.players), e.poolBalance)

	return nil
}

// CheckEligibility reports whether a selection may be triggered. It is
// a pure read: callable at any time, by anyone, with no side effects.
func (e *Engine) CheckEligibility(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.eligibleLocked()
}

// eligibleLocked evaluates the four trigger conditions. All are
// necessary, none sufficient alone.
func (e *Engine) eligibleLocked() bool {
	intervalPassed := e.now().Sub(e.lastTimestamp) > e.interval
	return e.state == StateOpen &&
		intervalPassed &&
		len(e.players) > 0 &&
		e.poolBalance > 0
}

// TriggerSelection re-checks eligibility and issues a randomness
// request, moving the raffle to calculating. Eligibility is evaluated
// here rather than trusted from the caller, closing the race between an
// off-process check and this call.
//
// This is phase 1 of a two-phase protocol: the winner is not determined
// until the provider delivers through Fulfill.
func (e *Engine) TriggerSelection(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.eligibleLocked() {
		return "", &UpkeepNotNeededError{
			Balance: e.poolBalance,
			Players: len(e.players),
			State:   e.state,
		}
	}

	e.state = StateCalculating
	requestID, err := e.provider.RequestRandomWords(ctx, e, e.randomnessRequest())
	if err != nil {
		// The request never left, so nothing is outstanding.
		e.state = StateOpen
		return "", fmt.Errorf("request random words: %w", err)
	}
	e.pendingRequestID = requestID

	if e.store != nil {
		draw := Draw{
			RequestID:   requestID,
			Status:      DrawStatusPending,
			PlayerCount: len(e.players),
			RequestedAt: e.now().UTC(),
		}
		if _, err := e.store.CreateDraw(ctx, draw); err != nil {
			e.log.WithError(err).WithField("request_id", requestID).Warn("failed to record draw")
		}
	}

	e.log.WithField("request_id", requestID).
		WithField("players", len(e.players)).
		WithField("pool", e.poolBalance).
		Info("selection requested")
	e.publish(events.TypeSelectionRequested, map[string]any{
		"request_id":   requestID,
		"player_count": len(e.players),
		"pool_balance": e.poolBalance,
	})
	metrics.RecordSelectionRequested()

	return requestID, nil
}

// Fulfill completes a selection: it is invoked by the provider's
// asynchronous callback, never directly by a participant. The winner
// index is randomWords[0] mod player count, so an address holding k of
// the n slots wins with probability k/n.
//
// All state changes are applied only after the transfer succeeds. On
// transfer failure the raffle stays calculating with the pool intact and
// the operation fails as a whole; the provider may redeliver.
func (e *Engine) Fulfill(ctx context.Context, requestID string, randomWords []*big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCalculating {
		return ErrNoSelectionInProgress
	}
	if len(randomWords) == 0 {
		return ErrEmptyRandomWords
	}

	winnerIndex := new(big.Int).Mod(randomWords[0], big.NewInt(int64(len(e.players)))).Int64()
	winner := e.players[winnerIndex]
	payout := e.poolBalance

	if !e.sink.Transfer(ctx, winner, payout) {
		e.log.WithField("request_id", requestID).
			WithField("winner", winner).
			WithField("payout", payout).
			Warn("payout transfer failed, fulfillment rolled back")
		metrics.RecordFulfillment("transfer_failed", 0)
		return ErrPayoutTransferFailed
	}

	now := e.now().UTC()
	e.recentWinner = winner
	e.players = nil
	e.poolBalance = 0
	e.state = StateOpen
	e.pendingRequestID = ""
	e.lastTimestamp = now

	if e.store != nil {
		if draw, err := e.store.GetDrawByRequestID(ctx, requestID); err == nil {
			draw.Status = DrawStatusFulfilled
			draw.Winner = winner
			draw.Payout = payout
			draw.FulfilledAt = now
			if _, err := e.store.UpdateDraw(ctx, draw); err != nil {
				e.log.WithError(err).WithField("request_id", requestID).Warn("failed to update draw")
			}
		}
	}

	e.log.WithField("request_id", requestID).
		WithField("winner", winner).
		WithField("payout", payout).
		Info("winner selected")
	e.publish(events.TypeWinnerSelected, map[string]any{
		"request_id": requestID,
		"winner":     winner,
		"payout":     payout,
	})
	metrics.RecordFulfillment("success", payout)

	return nil
}

// randomnessRequest builds the provider request from the instance
// config and the protocol constants.
func (e *Engine) randomnessRequest() RandomnessRequest {
	return RandomnessRequest{
		GasLane:              e.randomness.GasLane,
		SubscriptionID:       e.randomness.SubscriptionID,
		RequestConfirmations: RequestConfirmations,
		CallbackGasLimit:     e.randomness.CallbackGasLimit,
		NumWords:             NumWords,
	}
}

func (e *Engine) publish(eventType string, data map[string]any) {
	if e.events != nil {
		e.events.Publish(eventType, data)
	}
}

// --- Read accessors ---

// EntranceFee returns the fixed entrance fee.
func (e *Engine) EntranceFee() int64 {
	return e.entranceFee
}

// Interval returns the minimum duration between resets and triggers.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// GasLane returns the configured gas lane identifier.
func (e *Engine) GasLane() string {
	return e.randomness.GasLane
}

// SubscriptionID returns the configured subscription identifier.
func (e *Engine) SubscriptionID() uint64 {
	return e.randomness.SubscriptionID
}

// State returns the current raffle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// PlayerCount returns the number of entries in the current pool.
func (e *Engine) PlayerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.players)
}

// Player returns the entrant at the given slot.
func (e *Engine) Player(index int) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.players) {
		return "", ErrPlayerIndexOutOfRange
	}
	return e.players[index], nil
}

// PoolBalance returns the accumulated entrance fees awaiting payout.
func (e *Engine) PoolBalance() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.poolBalance
}

// RecentWinner returns the most recently paid winner, empty until the
// first payout.
func (e *Engine) RecentWinner() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recentWinner
}

// LastTimestamp returns the time of the last reset.
func (e *Engine) LastTimestamp() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTimestamp
}

// PendingRequestID returns the in-flight request identifier, empty when
// the raffle is open.
func (e *Engine) PendingRequestID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pendingRequestID
}

// Snapshot returns a consistent view of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		State:            e.state,
		PlayerCount:      len(e.players),
		PoolBalance:      e.poolBalance,
		EntranceFee:      e.entranceFee,
		IntervalSeconds:  int64(e.interval / time.Second),
		RecentWinner:     e.recentWinner,
		PendingRequestID: e.pendingRequestID,
		LastTimestamp:    e.lastTimestamp,
	}
}
