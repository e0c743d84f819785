// Package payout provides ledger-backed value transfer for raffle prizes.
//
// This is NOT a raffle component but supporting infrastructure: the engine
// only sees the transfer capability, the ledger keeps account balances and
// a transaction trail for auditing.
package payout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transaction types recorded by the ledger.
const (
	TxTypeDeposit = "deposit"
	TxTypePayout  = "payout"
)

// Transaction is a single ledger movement.
type Transaction struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	TxType       string    `json:"tx_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Bank is an in-memory ledger. Frozen accounts reject incoming
// transfers, which is how payout failure is exercised in tests and
// local runs.
type Bank struct {
	mu           sync.Mutex
	balances     map[string]int64
	frozen       map[string]bool
	transactions []Transaction
}

// NewBank creates an empty ledger.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[string]int64),
		frozen:   make(map[string]bool),
	}
}

// Deposit credits an account.
func (b *Bank) Deposit(ctx context.Context, account string, amount int64, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances[account] += amount
	b.record(account, TxTypeDeposit, amount, reference)
	return nil
}

// Transfer credits the recipient and reports whether the transfer
// succeeded. It never returns an error: failure is part of the result so
// callers can apply their own rollback semantics.
func (b *Bank) Transfer(ctx context.Context, to string, amount int64) bool {
	if amount <= 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen[to] {
		return false
	}

	b.balances[to] += amount
	b.record(to, TxTypePayout, amount, "")
	return true
}

// Balance returns the current balance of an account.
func (b *Bank) Balance(account string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Freeze makes an account reject incoming transfers.
func (b *Bank) Freeze(account string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen[account] = true
}

// Unfreeze restores an account.
func (b *Bank) Unfreeze(account string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.frozen, account)
}

// Transactions returns recent transactions for an account, newest last.
func (b *Bank) Transactions(account string, limit int) []Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Transaction
	for _, tx := range b.transactions {
		if tx.Account == account {
			result = append(result, tx)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func (b *Bank) record(account, txType string, amount int64, reference string) {
	b.transactions = append(b.transactions, Transaction{
		ID:           uuid.NewString(),
		Account:      account,
		TxType:       txType,
		Amount:       amount,
		BalanceAfter: b.balances[account],
		ReferenceID:  reference,
		CreatedAt:    time.Now().UTC(),
	})
}
