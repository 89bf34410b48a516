package app

import (
	"fmt"

	"familyart/pkg/domain"
	"familyart/pkg/store"
)

const recentSubmissionsLimit = 50

// SubmissionDetail bundles a submission with its animations for the
// public gallery lookup.
type SubmissionDetail struct {
	Submission domain.PhotoSubmission `json:"submission"`
	Animations []domain.AnimationTask `json:"animations"`
}

// GetSubmissionWithAnimations looks up a submission by queue number and
// attaches any animations generated from it. A submission without
// animations is still a hit; only a missing submission is ErrNotFound.
func (a *App) GetSubmissionWithAnimations(queueNumber string) (SubmissionDetail, error) {
	sub, ok, err := a.store.GetSubmission(queueNumber)
	if err != nil {
		return SubmissionDetail{}, fmt.Errorf("lookup submission: %w", err)
	}
	if !ok {
		return SubmissionDetail{}, store.ErrNotFound
	}
	animations, err := a.store.ListAnimationsByFamilyArt(queueNumber)
	if err != nil {
		return SubmissionDetail{}, fmt.Errorf("lookup animations: %w", err)
	}
	if animations == nil {
		animations = []domain.AnimationTask{}
	}
	return SubmissionDetail{Submission: sub, Animations: animations}, nil
}

// GetAnimationsByQueue lists all animations attached to a queue number,
// newest first.
func (a *App) GetAnimationsByQueue(queueNumber string) ([]domain.AnimationTask, error) {
	animations, err := a.store.ListAnimationsByFamilyArt(queueNumber)
	if err != nil {
		return nil, fmt.Errorf("lookup animations: %w", err)
	}
	if animations == nil {
		animations = []domain.AnimationTask{}
	}
	return animations, nil
}

// GetAnimationByTask fetches a single animation by its task id.
func (a *App) GetAnimationByTask(taskID string) (domain.AnimationTask, error) {
	task, ok, err := a.store.GetAnimationTask(taskID)
	if err != nil {
		return domain.AnimationTask{}, fmt.Errorf("lookup animation: %w", err)
	}
	if !ok {
		return domain.AnimationTask{}, store.ErrNotFound
	}
	return task, nil
}

// RecentSubmissions returns the newest submissions for the admin view.
func (a *App) RecentSubmissions() ([]domain.PhotoSubmission, error) {
	subs, err := a.store.ListRecentSubmissions(recentSubmissionsLimit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if subs == nil {
		subs = []domain.PhotoSubmission{}
	}
	return subs, nil
}

// EnsureUser upserts the signed-in user, granting the admin role to
// configured addresses.
func (a *App) EnsureUser(u domain.User) (domain.User, error) {
	return a.store.EnsureUser(u)
}

// AddTestCredits tops up a balance outside the payment flow. The handler
// restricts it to admins in production.
func (a *App) AddTestCredits(email string, amount int) (int, error) {
	if err := a.ledger.AddCredits(email, amount, domain.TransactionRefund, "Test credit top-up"); err != nil {
		return 0, err
	}
	return a.ledger.GetCredits(email)
}
