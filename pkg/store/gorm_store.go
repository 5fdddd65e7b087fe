package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"promptpix/pkg/domain"
)

const migrateLockID int64 = 52815281

const defaultPageSize = 50

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
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
		if err := tx.AutoMigrate(&UserModel{}, &CreditRecordModel{}); err != nil {
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

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "username_key", "password_hash", "credits", "premium", "admin", "history"}),
	}).Create(&model).Error
}

// HasUsername checks whether the normalized username exists.
func (s *GormStore) HasUsername(usernameKey string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username_key = ?", usernameKey).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by normalized username.
func (s *GormStore) GetUserByUsername(usernameKey string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username_key = ?", usernameKey).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// AppendHistory appends one entry to the user's history.
// Concurrent appends to the same user can lose entries; the history is a
// best-effort usage log, not an audit trail.
func (s *GormStore) AppendHistory(userID string, entry domain.HistoryEntry) error {
	user, ok, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	history := append(user.History, entry)
	rawHistory, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return s.db.Model(&UserModel{}).Where("id = ?", userID).
		Update("history", rawHistory).Error
}

// GetCreditRecord retrieves a session credit record.
func (s *GormStore) GetCreditRecord(key string) (domain.CreditRecord, bool, error) {
	var model CreditRecordModel
	if err := s.db.First(&model, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.CreditRecord{}, false, nil
		}
		return domain.CreditRecord{}, false, err
	}
	return creditFromModel(model), true, nil
}

// PutCreditRecord creates or replaces a credit record wholesale.
func (s *GormStore) PutCreditRecord(rec domain.CreditRecord) error {
	model := creditToModel(rec)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"credits", "created_at", "updated_at"}),
	}).Create(&model).Error
}

// MergeCreditRecord updates only the fields set on the patch, creating the
// record when the key does not exist.
func (s *GormStore) MergeCreditRecord(key string, patch domain.CreditPatch) error {
	existing, ok, err := s.GetCreditRecord(key)
	if err != nil {
		return err
	}
	if !ok {
		now := time.Now().UTC()
		rec := domain.CreditRecord{Key: key, CreatedAt: now, UpdatedAt: now}
		applyCreditPatch(&rec, patch)
		return s.PutCreditRecord(rec)
	}
	applyCreditPatch(&existing, patch)
	return s.db.Model(&CreditRecordModel{}).Where("key = ?", key).
		Updates(map[string]any{
			"credits":    existing.Credits,
			"updated_at": existing.UpdatedAt,
		}).Error
}

// ListCreditRecords pages through records most-recently-updated first using
// keyset pagination on (updated_at, key).
func (s *GormStore) ListCreditRecords(pageSize int, cursor string) ([]domain.CreditRecord, string, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	query := s.db.Model(&CreditRecordModel{}).
		Order("updated_at DESC").
		Order("key DESC").
		Limit(pageSize)
	if cursor != "" {
		cursorAt, cursorKey, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query = query.Where("updated_at < ? OR (updated_at = ? AND key < ?)", cursorAt, cursorAt, cursorKey)
	}
	var models []CreditRecordModel
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}
	records := make([]domain.CreditRecord, 0, len(models))
	for _, m := range models {
		records = append(records, creditFromModel(m))
	}
	next := ""
	if len(records) == pageSize {
		next = encodeCursor(records[len(records)-1])
	}
	return records, next, nil
}

func applyCreditPatch(rec *domain.CreditRecord, patch domain.CreditPatch) {
	if patch.Credits != nil {
		rec.Credits = *patch.Credits
	}
	if patch.UpdatedAt != nil {
		rec.UpdatedAt = patch.UpdatedAt.UTC()
	}
}
