package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"promptpix/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"not null"`
	UsernameKey  string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Credits      int    `gorm:"not null"`
	Premium      bool
	Admin        bool
	History      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null"`
}

type CreditRecordModel struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Credits   int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

func userToModel(u domain.User) UserModel {
	rawHistory, _ := json.Marshal(u.History)
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		UsernameKey:  UsernameKey(u.Username),
		PasswordHash: u.PasswordHash,
		Credits:      u.Credits,
		Premium:      u.Premium,
		Admin:        u.Admin,
		History:      rawHistory,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	var history []domain.HistoryEntry
	if len(m.History) > 0 {
		_ = json.Unmarshal(m.History, &history)
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Credits:      m.Credits,
		Premium:      m.Premium,
		Admin:        m.Admin,
		History:      history,
		CreatedAt:    m.CreatedAt,
	}
}

func creditToModel(rec domain.CreditRecord) CreditRecordModel {
	return CreditRecordModel{
		Key:       rec.Key,
		Credits:   rec.Credits,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func creditFromModel(m CreditRecordModel) domain.CreditRecord {
	return domain.CreditRecord{
		Key:       m.Key,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
