package store

import (
	"errors"

	"familyart/pkg/domain"
)

// ErrNotFound is returned by lookups that require the record to exist.
var ErrNotFound = errors.New("record not found")

// Store defines persistence operations for users, the credit ledger,
// photo submissions, and animation tasks.
type Store interface {
	// users
	EnsureUser(u domain.User) (domain.User, error)
	GetUser(email string) (domain.User, bool, error)

	// credit ledger
	// DebitCredits atomically decrements the balance only when it is at
	// least amount, reporting whether a row was updated.
	DebitCredits(email string, amount int) (bool, error)
	// AdjustCredits unconditionally adds delta to the balance, reporting
	// whether the user row exists.
	AdjustCredits(email string, delta int) (bool, error)
	AppendTransaction(tx domain.CreditTransaction) error
	ListTransactions(email string, limit int) ([]domain.CreditTransaction, error)

	// photo submissions
	MaxQueueNumber() (int, bool, error)
	SaveSubmission(sub domain.PhotoSubmission) error
	GetSubmission(queueNumber string) (domain.PhotoSubmission, bool, error)
	ListRecentSubmissions(limit int) ([]domain.PhotoSubmission, error)

	// animation tasks
	SaveAnimationTask(task domain.AnimationTask) error
	UpdateAnimationTask(task domain.AnimationTask) error
	GetAnimationTask(taskID string) (domain.AnimationTask, bool, error)
	ListAnimationsByFamilyArt(queueNumber string) ([]domain.AnimationTask, error)
}
