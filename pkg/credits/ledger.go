// Package credits owns the per-user credit balance and its append-only
// transaction log. Every paid generation consumes credits through it.
package credits

import (
	"errors"
	"time"

	"familyart/internal/util"
	"familyart/pkg/domain"
	"familyart/pkg/store"
)

const DefaultHistoryLimit = 10

// ErrInsufficientCredits signals a debit larger than the balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger performs balance checks and mutations against the store.
type Ledger struct {
	store store.Store
}

// NewLedger wires the ledger to its backing store.
func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// HasEnoughCredits reports whether the balance covers required credits.
// An absent user simply has no credits; it is not an error.
func (l *Ledger) HasEnoughCredits(email string, required int) (bool, error) {
	if required <= 0 {
		required = 1
	}
	user, ok, err := l.store.GetUser(email)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return user.Credits >= required, nil
}

// GetCredits returns the current balance, zero for absent users.
func (l *Ledger) GetCredits(email string) (int, error) {
	user, ok, err := l.store.GetUser(email)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return user.Credits, nil
}

// DeductCredits decrements the balance and appends a deduction entry.
// The decrement is a single conditional store update, so two concurrent
// deductions can never drive the balance negative. Returns
// ErrInsufficientCredits without mutation when the balance does not cover
// the amount (or the user is absent).
func (l *Ledger) DeductCredits(email string, amount int, description string) error {
	if amount <= 0 {
		amount = 1
	}
	ok, err := l.store.DebitCredits(email, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCredits
	}
	return l.store.AppendTransaction(domain.CreditTransaction{
		ID:          util.NewID(),
		UserEmail:   email,
		Amount:      -amount,
		Type:        domain.TransactionDeduction,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// AddCredits increments the balance and appends an entry of the given
// type (purchase for paid top-ups, refund for compensations).
func (l *Ledger) AddCredits(email string, amount int, txType domain.TransactionType, description string) error {
	if amount <= 0 {
		amount = 1
	}
	ok, err := l.store.AdjustCredits(email, amount)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return l.store.AppendTransaction(domain.CreditTransaction{
		ID:          util.NewID(),
		UserEmail:   email,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// GetCreditHistory returns the newest transactions for a user.
func (l *Ledger) GetCreditHistory(email string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return l.store.ListTransactions(email, limit)
}
