package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"familyart/pkg/domain"
)

const migrateLockID int64 = 48210331

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &CreditTransactionModel{}, &PhotoSubmissionModel{}, &AnimationTaskModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// EnsureUser creates the user on first sign-in with a zero balance and
// returns the stored record. Existing records are left untouched so that
// the balance is only ever mutated through the ledger operations.
func (s *GormStore) EnsureUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	stored, ok, err := s.GetUser(u.Email)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return stored, nil
}

// GetUser looks up a user by email.
func (s *GormStore) GetUser(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DebitCredits decrements the balance in a single conditional update so
// that concurrent debits cannot drive it negative.
func (s *GormStore) DebitCredits(email string, amount int) (bool, error) {
	res := s.db.Model(&UserModel{}).
		Where("email = ? AND credits >= ?", email, amount).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AdjustCredits adds delta to the balance unconditionally.
func (s *GormStore) AdjustCredits(email string, delta int) (bool, error) {
	res := s.db.Model(&UserModel{}).
		Where("email = ?", email).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendTransaction records a ledger entry.
func (s *GormStore) AppendTransaction(tx domain.CreditTransaction) error {
	model := transactionToModel(tx)
	return s.db.Create(&model).Error
}

// ListTransactions returns the newest entries for a user.
func (s *GormStore) ListTransactions(email string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		return []domain.CreditTransaction{}, nil
	}
	var models []CreditTransactionModel
	if err := s.db.Where("user_email = ?", email).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	txs := make([]domain.CreditTransaction, 0, len(models))
	for _, m := range models {
		txs = append(txs, transactionFromModel(m))
	}
	return txs, nil
}

// MaxQueueNumber returns the highest assigned queue number. The second
// return value is false when no submissions exist yet.
func (s *GormStore) MaxQueueNumber() (int, bool, error) {
	var max sql.NullInt64
	if err := s.db.Model(&PhotoSubmissionModel{}).
		Select("MAX(queue_number::integer)").
		Scan(&max).Error; err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

// SaveSubmission persists a photo submission.
func (s *GormStore) SaveSubmission(sub domain.PhotoSubmission) error {
	model := submissionToModel(sub)
	return s.db.Create(&model).Error
}

// GetSubmission retrieves a submission by queue number.
func (s *GormStore) GetSubmission(queueNumber string) (domain.PhotoSubmission, bool, error) {
	var model PhotoSubmissionModel
	if err := s.db.First(&model, "queue_number = ?", queueNumber).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.PhotoSubmission{}, false, nil
		}
		return domain.PhotoSubmission{}, false, err
	}
	return submissionFromModel(model), true, nil
}

// ListRecentSubmissions returns the newest submissions.
func (s *GormStore) ListRecentSubmissions(limit int) ([]domain.PhotoSubmission, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []PhotoSubmissionModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	subs := make([]domain.PhotoSubmission, 0, len(models))
	for _, m := range models {
		subs = append(subs, submissionFromModel(m))
	}
	return subs, nil
}

// SaveAnimationTask persists a new animation task.
func (s *GormStore) SaveAnimationTask(task domain.AnimationTask) error {
	model := animationToModel(task)
	return s.db.Create(&model).Error
}

// UpdateAnimationTask replaces the mutable fields of an existing task.
func (s *GormStore) UpdateAnimationTask(task domain.AnimationTask) error {
	return s.db.Model(&AnimationTaskModel{}).
		Where("task_id = ?", task.TaskID).
		Updates(map[string]any{
			"status":               string(task.Status),
			"download_url":         task.DownloadURL,
			"cloudinary_video_url": task.CloudinaryVideoURL,
			"cloudinary_image_url": task.CloudinaryImageURL,
			"error_message":        task.ErrorMessage,
			"provider_meta":        providerMetaToJSON(task.ProviderMeta),
			"updated_at":           time.Now().UTC(),
		}).Error
}

// GetAnimationTask retrieves a task by ID.
func (s *GormStore) GetAnimationTask(taskID string) (domain.AnimationTask, bool, error) {
	var model AnimationTaskModel
	if err := s.db.First(&model, "task_id = ?", taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AnimationTask{}, false, nil
		}
		return domain.AnimationTask{}, false, err
	}
	return animationFromModel(model), true, nil
}

// ListAnimationsByFamilyArt returns tasks for a queue number, newest
// first. Legacy rows recorded the key in whatever representation the
// caller sent, so a miss on the exact form retries with the canonical
// numeric form.
func (s *GormStore) ListAnimationsByFamilyArt(queueNumber string) ([]domain.AnimationTask, error) {
	tasks, err := s.listAnimations(queueNumber)
	if err != nil {
		return nil, err
	}
	canonical := CanonicalFamilyArtID(queueNumber)
	if len(tasks) == 0 && canonical != queueNumber {
		return s.listAnimations(canonical)
	}
	return tasks, nil
}

func (s *GormStore) listAnimations(familyArtID string) ([]domain.AnimationTask, error) {
	var models []AnimationTaskModel
	if err := s.db.Where("family_art_id = ?", familyArtID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	tasks := make([]domain.AnimationTask, 0, len(models))
	for _, m := range models {
		tasks = append(tasks, animationFromModel(m))
	}
	return tasks, nil
}

// CanonicalFamilyArtID normalizes a queue-number key to its numeric string
// form. Non-numeric input is returned trimmed but otherwise unchanged.
func CanonicalFamilyArtID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return trimmed
	}
	return strconv.Itoa(n)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Role:      string(u.Role),
		Credits:   u.Credits,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		Email:     m.Email,
		Name:      m.Name,
		AvatarURL: m.AvatarURL,
		Role:      role,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func transactionToModel(tx domain.CreditTransaction) CreditTransactionModel {
	return CreditTransactionModel{
		ID:          tx.ID,
		UserEmail:   tx.UserEmail,
		Amount:      tx.Amount,
		Type:        string(tx.Type),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt,
	}
}

func transactionFromModel(m CreditTransactionModel) domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:          m.ID,
		UserEmail:   m.UserEmail,
		Amount:      m.Amount,
		Type:        domain.TransactionType(m.Type),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}

func submissionToModel(sub domain.PhotoSubmission) PhotoSubmissionModel {
	return PhotoSubmissionModel{
		ID:                  sub.ID,
		QueueNumber:         sub.QueueNumber,
		OriginalPhotoURL:    sub.OriginalPhotoURL,
		GeneratedOutlineURL: sub.GeneratedOutlineURL,
		Status:              string(sub.Status),
		CreatedAt:           sub.CreatedAt,
	}
}

func submissionFromModel(m PhotoSubmissionModel) domain.PhotoSubmission {
	status := domain.SubmissionStatus(m.Status)
	if status == "" {
		status = domain.SubmissionCompleted
	}
	return domain.PhotoSubmission{
		ID:                  m.ID,
		QueueNumber:         m.QueueNumber,
		OriginalPhotoURL:    m.OriginalPhotoURL,
		GeneratedOutlineURL: m.GeneratedOutlineURL,
		Status:              status,
		CreatedAt:           m.CreatedAt,
	}
}

func animationToModel(task domain.AnimationTask) AnimationTaskModel {
	return AnimationTaskModel{
		TaskID:             task.TaskID,
		Status:             string(task.Status),
		ImageURL:           task.ImageURL,
		Prompt:             task.Prompt,
		Model:              task.Model,
		Duration:           task.Duration,
		Resolution:         task.Resolution,
		FamilyArtID:        CanonicalFamilyArtID(task.FamilyArtID),
		DownloadURL:        task.DownloadURL,
		CloudinaryVideoURL: task.CloudinaryVideoURL,
		CloudinaryImageURL: task.CloudinaryImageURL,
		ErrorMessage:       task.ErrorMessage,
		ProviderMeta:       providerMetaToJSON(task.ProviderMeta),
		CreatedAt:          task.CreatedAt,
		UpdatedAt:          task.UpdatedAt,
	}
}

func providerMetaToJSON(meta map[string]string) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func providerMetaFromJSON(raw datatypes.JSON) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	meta := map[string]string{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}

func animationFromModel(m AnimationTaskModel) domain.AnimationTask {
	return domain.AnimationTask{
		TaskID:             m.TaskID,
		Status:             domain.AnimationStatus(m.Status),
		ImageURL:           m.ImageURL,
		Prompt:             m.Prompt,
		Model:              m.Model,
		Duration:           m.Duration,
		Resolution:         m.Resolution,
		FamilyArtID:        m.FamilyArtID,
		DownloadURL:        m.DownloadURL,
		CloudinaryVideoURL: m.CloudinaryVideoURL,
		CloudinaryImageURL: m.CloudinaryImageURL,
		ErrorMessage:       m.ErrorMessage,
		ProviderMeta:       providerMetaFromJSON(m.ProviderMeta),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
