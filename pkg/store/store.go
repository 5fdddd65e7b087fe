package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"promptpix/pkg/domain"
)

// ErrNotConfigured is returned by every operation of the NotConfigured store.
// Callers see it when neither a database URL nor a data file was supplied.
var ErrNotConfigured = errors.New("storage not configured")

// ErrInvalidCursor is returned for pagination cursors that were not produced
// by ListCreditRecords.
var ErrInvalidCursor = errors.New("invalid cursor")

// Store defines persistence operations for users and session credit records.
//
// Lookups report absence through the bool return, never through an error.
// MergeCreditRecord is an upsert: merging into a missing key creates it.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUsername(usernameKey string) (bool, error)
	GetUserByUsername(usernameKey string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	AppendHistory(userID string, entry domain.HistoryEntry) error

	// session credit records
	GetCreditRecord(key string) (domain.CreditRecord, bool, error)
	PutCreditRecord(rec domain.CreditRecord) error
	MergeCreditRecord(key string, patch domain.CreditPatch) error
	// ListCreditRecords pages through records most-recently-updated first.
	// The returned cursor is opaque; an empty cursor means no further pages.
	ListCreditRecords(pageSize int, cursor string) ([]domain.CreditRecord, string, error)
}

// SessionStore issues and resolves session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
}

// UsernameKey normalizes a username for case-insensitive lookups.
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NotConfigured is the backend wired when no storage was configured.
// Every operation fails fast instead of degrading silently.
type NotConfigured struct{}

func NewNotConfigured() NotConfigured { return NotConfigured{} }

func (NotConfigured) SaveUser(domain.User) error         { return ErrNotConfigured }
func (NotConfigured) HasUsername(string) (bool, error)   { return false, ErrNotConfigured }
func (NotConfigured) ListUsers() ([]domain.User, error)  { return nil, ErrNotConfigured }
func (NotConfigured) GetUserByUsername(string) (domain.User, bool, error) {
	return domain.User{}, false, ErrNotConfigured
}
func (NotConfigured) GetUserByID(string) (domain.User, bool, error) {
	return domain.User{}, false, ErrNotConfigured
}
func (NotConfigured) AppendHistory(string, domain.HistoryEntry) error { return ErrNotConfigured }
func (NotConfigured) GetCreditRecord(string) (domain.CreditRecord, bool, error) {
	return domain.CreditRecord{}, false, ErrNotConfigured
}
func (NotConfigured) PutCreditRecord(domain.CreditRecord) error { return ErrNotConfigured }
func (NotConfigured) MergeCreditRecord(string, domain.CreditPatch) error {
	return ErrNotConfigured
}
func (NotConfigured) ListCreditRecords(int, string) ([]domain.CreditRecord, string, error) {
	return nil, "", ErrNotConfigured
}

func nowUTC() time.Time { return time.Now().UTC() }

// encodeCursor packs the last record of a page into an opaque cursor.
func encodeCursor(rec domain.CreditRecord) string {
	raw := fmt.Sprintf("%d|%s", rec.UpdatedAt.UTC().UnixNano(), rec.Key)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor unpacks a cursor produced by encodeCursor.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}

// afterCursor reports whether rec sorts strictly after the cursor position in
// the most-recently-updated-first ordering.
func afterCursor(rec domain.CreditRecord, cursorAt time.Time, cursorKey string) bool {
	at := rec.UpdatedAt.UTC()
	if at.Before(cursorAt) {
		return true
	}
	return at.Equal(cursorAt) && rec.Key < cursorKey
}
