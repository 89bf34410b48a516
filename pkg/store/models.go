package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	Email     string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	AvatarURL string
	Role      string    `gorm:"not null"`
	Credits   int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type CreditTransactionModel struct {
	ID          string `gorm:"primaryKey"`
	UserEmail   string `gorm:"not null;index"`
	Amount      int    `gorm:"not null"`
	Type        string `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null;index"`
}

type PhotoSubmissionModel struct {
	ID                  string `gorm:"primaryKey"`
	QueueNumber         string `gorm:"uniqueIndex;not null"`
	OriginalPhotoURL    string `gorm:"type:text;not null"`
	GeneratedOutlineURL string `gorm:"type:text"`
	Status              string `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null;index"`
}

type AnimationTaskModel struct {
	TaskID             string `gorm:"primaryKey"`
	Status             string `gorm:"not null"`
	ImageURL           string `gorm:"type:text"`
	Prompt             string `gorm:"type:text"`
	Model              string
	Duration           string
	Resolution         string
	FamilyArtID        string `gorm:"index"`
	DownloadURL        string `gorm:"type:text"`
	CloudinaryVideoURL string `gorm:"type:text"`
	CloudinaryImageURL string `gorm:"type:text"`
	ErrorMessage       string `gorm:"type:text"`
	ProviderMeta       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time `gorm:"not null;index"`
	UpdatedAt          time.Time `gorm:"not null"`
}
