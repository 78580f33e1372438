// Package settlement models the organisations that own structures: their
// accounts, membership and member notifications.
package settlement

import (
	"sync"
	"time"
)

// Account is a settlement's currency account.
type Account interface {
	// Withdraw debits amount and reports success. A failed withdrawal changes nothing.
	Withdraw(amount int, memo string) bool
	// Deposit credits amount.
	Deposit(amount int, memo string)
}

// Statement is an account whose balance and history can be read.
type Statement interface {
	Balance() int
	History() []Transaction
}

// Transaction is one account movement; Amount is negative for withdrawals.
type Transaction struct {
	Amount  int
	Memo    string
	Balance int
	At      time.Time
}

// Treasury is an in-memory Account safe for concurrent use.
type Treasury struct {
	mu      sync.Mutex
	balance int
	history []Transaction
	now     func() time.Time
}

// NewTreasury returns a Treasury holding balance.
func NewTreasury(balance int) *Treasury {
	return &Treasury{balance: balance, now: time.Now}
}

// Withdraw implements Account.
//
// Postcondition: returns false and leaves the balance unchanged when amount > Balance().
func (t *Treasury) Withdraw(amount int, memo string) bool {
	if amount < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount > t.balance {
		return false
	}
	t.balance -= amount
	t.history = append(t.history, Transaction{Amount: -amount, Memo: memo, Balance: t.balance, At: t.now()})
	return true
}

// Deposit implements Account. Non-positive amounts are ignored.
func (t *Treasury) Deposit(amount int, memo string) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance += amount
	t.history = append(t.history, Transaction{Amount: amount, Memo: memo, Balance: t.balance, At: t.now()})
}

// Balance returns the current balance.
func (t *Treasury) Balance() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

// History returns a copy of all transactions, oldest first.
func (t *Treasury) History() []Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transaction, len(t.history))
	copy(out, t.history)
	return out
}
