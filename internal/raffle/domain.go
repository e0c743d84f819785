// Package raffle implements the raffle engine: entry admission,
// eligibility evaluation, selection triggering and randomness fulfillment.
//
// Architecture: Request-Callback Pattern
//  1. Entrants pay the entrance fee into the pool while the raffle is open
//  2. Once the interval elapses, a trigger moves the raffle to calculating
//     and issues a randomness request to the provider
//  3. The provider later delivers random words through Fulfill
//  4. The winner receives the entire pool and the raffle resets
package raffle

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a raffle instance.
type State string

const (
	// StateOpen admits new entrants and permits trigger evaluation.
	StateOpen State = "open"
	// StateCalculating rejects entrants while a randomness request is
	// outstanding. Exactly one request is in flight in this state.
	StateCalculating State = "calculating"
)

// Protocol constants passed verbatim on every randomness request.
const (
	NumWords             = 1
	RequestConfirmations = 3
)

// RandomnessConfig holds the opaque provider parameters configured per
// raffle instance. Immutable after construction.
type RandomnessConfig struct {
	GasLane          string `json:"gas_lane" yaml:"gas_lane"`
	SubscriptionID   uint64 `json:"subscription_id" yaml:"subscription_id"`
	CallbackGasLimit uint32 `json:"callback_gas_limit" yaml:"callback_gas_limit"`
}

// RandomnessRequest is the full request payload sent to the provider:
// the instance config plus the protocol constants.
type RandomnessRequest struct {
	GasLane              string `json:"gas_lane"`
	SubscriptionID       uint64 `json:"subscription_id"`
	RequestConfirmations uint16 `json:"request_confirmations"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit"`
	NumWords             uint32 `json:"num_words"`
}

// Entry records a single paid admission.
type Entry struct {
	ID        string    `json:"id" db:"id"`
	Address   string    `json:"address" db:"address"`
	Amount    int64     `json:"amount" db:"amount"`
	EnteredAt time.Time `json:"entered_at" db:"entered_at"`
}

// DrawStatus is the lifecycle state of a selection round.
type DrawStatus string

const (
	DrawStatusPending   DrawStatus = "pending"
	DrawStatusFulfilled DrawStatus = "fulfilled"
)

// Draw records one selection round, from trigger to payout.
type Draw struct {
	ID          string     `json:"id" db:"id"`
	RequestID   string     `json:"request_id" db:"request_id"`
	Status      DrawStatus `json:"status" db:"status"`
	Winner      string     `json:"winner,omitempty" db:"winner"`
	Payout      int64      `json:"payout" db:"payout"`
	PlayerCount int        `json:"player_count" db:"player_count"`
	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	FulfilledAt time.Time  `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
}

// Snapshot is a read-only view of the engine state.
type Snapshot struct {
	State            State     `json:"state"`
	PlayerCount      int       `json:"player_count"`
	PoolBalance      int64     `json:"pool_balance"`
	EntranceFee      int64     `json:"entrance_fee"`
	IntervalSeconds  int64     `json:"interval_seconds"`
	RecentWinner     string    `json:"recent_winner,omitempty"`
	PendingRequestID string    `json:"pending_request_id,omitempty"`
	LastTimestamp    time.Time `json:"last_timestamp"`
}

// Errors
var (
	ErrInsufficientEntranceFee = errors.New("amount below entrance fee")
	ErrRaffleNotOpen           = errors.New("raffle is not open")
	ErrPayoutTransferFailed    = errors.New("payout transfer failed")
	ErrNoSelectionInProgress   = errors.New("no selection in progress")
	ErrEmptyRandomWords        = errors.New("random words must not be empty")
	ErrPlayerIndexOutOfRange   = errors.New("player index out of range")
)

// UpkeepNotNeededError reports a failed selection trigger with a
// diagnostic snapshot of the values that gated it.
type UpkeepNotNeededError struct {
	Balance int64
	Players int
	State   State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: balance=%d players=%d state=%s", e.Balance, e.Players, e.State)
}
