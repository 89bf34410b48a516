package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"familyart/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and the
// simulated mode where no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	txs         []domain.CreditTransaction
	submissions map[string]domain.PhotoSubmission
	subOrder    []string
	tasks       map[string]domain.AnimationTask
	taskOrder   []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		submissions: make(map[string]domain.PhotoSubmission),
		tasks:       make(map[string]domain.AnimationTask),
	}
}

// EnsureUser registers the user on first sign-in; existing records win.
func (m *MemoryStore) EnsureUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.Email]; ok {
		return existing, nil
	}
	m.users[u.Email] = u
	return u, nil
}

// GetUser looks up a user by email.
func (m *MemoryStore) GetUser(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	return u, ok, nil
}

// DebitCredits decrements only when the balance covers the amount.
func (m *MemoryStore) DebitCredits(email string, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok || u.Credits < amount {
		return false, nil
	}
	u.Credits -= amount
	u.UpdatedAt = time.Now().UTC()
	m.users[email] = u
	return true, nil
}

// AdjustCredits adds delta to the balance.
func (m *MemoryStore) AdjustCredits(email string, delta int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return false, nil
	}
	u.Credits += delta
	u.UpdatedAt = time.Now().UTC()
	m.users[email] = u
	return true, nil
}

// AppendTransaction records a ledger entry.
func (m *MemoryStore) AppendTransaction(tx domain.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return nil
}

// ListTransactions returns the newest entries for a user.
func (m *MemoryStore) ListTransactions(email string, limit int) ([]domain.CreditTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.CreditTransaction, 0, limit)
	for i := len(m.txs) - 1; i >= 0 && len(res) < limit; i-- {
		if m.txs[i].UserEmail == email {
			res = append(res, m.txs[i])
		}
	}
	return res, nil
}

// MaxQueueNumber returns the highest assigned queue number.
func (m *MemoryStore) MaxQueueNumber() (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max, found := 0, false
	for _, sub := range m.submissions {
		if n, err := strconv.Atoi(sub.QueueNumber); err == nil {
			if !found || n > max {
				max, found = n, true
			}
		}
	}
	return max, found, nil
}

// SaveSubmission persists a photo submission.
func (m *MemoryStore) SaveSubmission(sub domain.PhotoSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.submissions[sub.QueueNumber]; !exists {
		m.subOrder = append(m.subOrder, sub.QueueNumber)
	}
	m.submissions[sub.QueueNumber] = sub
	return nil
}

// GetSubmission retrieves a submission by queue number.
func (m *MemoryStore) GetSubmission(queueNumber string) (domain.PhotoSubmission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[queueNumber]
	return sub, ok, nil
}

// ListRecentSubmissions returns the newest submissions.
func (m *MemoryStore) ListRecentSubmissions(limit int) ([]domain.PhotoSubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	res := make([]domain.PhotoSubmission, 0, limit)
	for i := len(m.subOrder) - 1; i >= 0 && len(res) < limit; i-- {
		if sub, ok := m.submissions[m.subOrder[i]]; ok {
			res = append(res, sub)
		}
	}
	return res, nil
}

// SaveAnimationTask persists a new animation task.
func (m *MemoryStore) SaveAnimationTask(task domain.AnimationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.TaskID]; !exists {
		m.taskOrder = append(m.taskOrder, task.TaskID)
	}
	task.FamilyArtID = CanonicalFamilyArtID(task.FamilyArtID)
	m.tasks[task.TaskID] = task
	return nil
}

// UpdateAnimationTask replaces the mutable fields of an existing task.
func (m *MemoryStore) UpdateAnimationTask(task domain.AnimationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.TaskID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = task.Status
	existing.DownloadURL = task.DownloadURL
	existing.CloudinaryVideoURL = task.CloudinaryVideoURL
	existing.CloudinaryImageURL = task.CloudinaryImageURL
	existing.ErrorMessage = task.ErrorMessage
	if task.ProviderMeta != nil {
		existing.ProviderMeta = task.ProviderMeta
	}
	existing.UpdatedAt = time.Now().UTC()
	m.tasks[task.TaskID] = existing
	return nil
}

// GetAnimationTask retrieves a task by ID.
func (m *MemoryStore) GetAnimationTask(taskID string) (domain.AnimationTask, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[taskID]
	return task, ok, nil
}

// ListAnimationsByFamilyArt returns tasks for a queue number, newest first.
func (m *MemoryStore) ListAnimationsByFamilyArt(queueNumber string) ([]domain.AnimationTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	canonical := CanonicalFamilyArtID(queueNumber)
	res := make([]domain.AnimationTask, 0)
	for _, id := range m.taskOrder {
		task, ok := m.tasks[id]
		if !ok {
			continue
		}
		if task.FamilyArtID == queueNumber || task.FamilyArtID == canonical {
			res = append(res, task)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}
