package domain

import "time"

type AnimationStatus string

const (
	AnimationQueuing    AnimationStatus = "queuing"
	AnimationProcessing AnimationStatus = "processing"
	AnimationSuccess    AnimationStatus = "success"
	AnimationFailed     AnimationStatus = "failed"
)

// Terminal reports whether no further status transitions occur.
func (s AnimationStatus) Terminal() bool {
	return s == AnimationSuccess || s == AnimationFailed
}

type SubmissionStatus string

const (
	SubmissionCompleted SubmissionStatus = "completed"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type TransactionType string

const (
	TransactionDeduction TransactionType = "deduction"
	TransactionRefund    TransactionType = "refund"
	TransactionPurchase  TransactionType = "purchase"
)

type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Role      UserRole  `json:"role"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreditTransaction is an immutable ledger entry. Amount is signed:
// negative for deductions, positive for refunds and purchases.
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserEmail   string          `json:"userEmail"`
	Amount      int             `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type PhotoSubmission struct {
	ID                  string           `json:"id"`
	QueueNumber         string           `json:"queueNumber"`
	OriginalPhotoURL    string           `json:"originalPhotoUrl"`
	GeneratedOutlineURL string           `json:"generatedOutlineUrl"`
	Status              SubmissionStatus `json:"status"`
	CreatedAt           time.Time        `json:"createdAt"`
}

type AnimationTask struct {
	TaskID             string          `json:"taskId"`
	Status             AnimationStatus `json:"status"`
	ImageURL           string          `json:"imageUrl"`
	Prompt             string          `json:"prompt"`
	Model              string          `json:"model"`
	Duration           string          `json:"duration"`
	Resolution         string          `json:"resolution"`
	FamilyArtID        string          `json:"familyArtId"`
	DownloadURL        string          `json:"downloadUrl,omitempty"`
	CloudinaryVideoURL string          `json:"cloudinaryVideoUrl,omitempty"`
	CloudinaryImageURL string          `json:"cloudinaryImageUrl,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	// ProviderMeta carries the provider-side identifiers and status
	// text for debugging; never shown to end users.
	ProviderMeta map[string]string `json:"-"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// CreditPackage maps a purchasable package to its credit grant and price.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	PriceCents int64  `json:"priceCents"`
}
