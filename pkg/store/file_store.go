package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"promptpix/pkg/domain"
)

// FileStore persists all records in a single JSON document on disk.
// Every mutation rewrites the whole file; a mutex serializes access within
// the process. Suitable for a single-instance deployment without a database.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  fileDocument
}

type fileDocument struct {
	Users   []fileUser                     `json:"users"`
	Credits map[string]domain.CreditRecord `json:"credits"`
}

// fileUser carries the password hash, which domain.User hides from JSON.
type fileUser struct {
	domain.User
	PasswordHash string `json:"passwordHash"`
}

// NewFileStore opens (or creates) the JSON document at path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("data file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &FileStore{
		path: path,
		doc:  fileDocument{Credits: make(map[string]domain.CreditRecord)},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read data file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.doc); err != nil {
			return nil, fmt.Errorf("parse data file: %w", err)
		}
	}
	if s.doc.Credits == nil {
		s.doc.Credits = make(map[string]domain.CreditRecord)
	}
	return s, nil
}

// persist writes the document to a temp file and renames it into place.
// Callers must hold the mutex.
func (s *FileStore) persist() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// SaveUser registers or replaces a user.
func (s *FileStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := fileUser{User: u, PasswordHash: u.PasswordHash}
	for i, existing := range s.doc.Users {
		if existing.ID == u.ID {
			s.doc.Users[i] = entry
			return s.persist()
		}
	}
	s.doc.Users = append(s.doc.Users, entry)
	return s.persist()
}

// HasUsername checks whether the normalized username exists.
func (s *FileStore) HasUsername(usernameKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if UsernameKey(u.Username) == usernameKey {
			return true, nil
		}
	}
	return false, nil
}

// GetUserByUsername looks up a user by normalized username.
func (s *FileStore) GetUserByUsername(usernameKey string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if UsernameKey(u.Username) == usernameKey {
			return restoreUser(u), true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (s *FileStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if u.ID == id {
			return restoreUser(u), true, nil
		}
	}
	return domain.User{}, false, nil
}

// ListUsers returns users in registration order.
func (s *FileStore) ListUsers() ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]domain.User, 0, len(s.doc.Users))
	for _, u := range s.doc.Users {
		res = append(res, restoreUser(u))
	}
	return res, nil
}

// AppendHistory appends one entry to the user's history.
func (s *FileStore) AppendHistory(userID string, entry domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.doc.Users {
		if u.ID == userID {
			s.doc.Users[i].User.History = append(s.doc.Users[i].User.History, entry)
			return s.persist()
		}
	}
	return fmt.Errorf("user %s not found", userID)
}

// GetCreditRecord retrieves a session credit record.
func (s *FileStore) GetCreditRecord(key string) (domain.CreditRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Credits[key]
	return rec, ok, nil
}

// PutCreditRecord creates or replaces a credit record wholesale.
func (s *FileStore) PutCreditRecord(rec domain.CreditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Credits[rec.Key] = rec
	return s.persist()
}

// MergeCreditRecord updates only the fields set on the patch, creating the
// record when the key does not exist.
func (s *FileStore) MergeCreditRecord(key string, patch domain.CreditPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Credits[key]
	if !ok {
		now := nowUTC()
		rec = domain.CreditRecord{Key: key, CreatedAt: now, UpdatedAt: now}
	}
	applyCreditPatch(&rec, patch)
	s.doc.Credits[key] = rec
	return s.persist()
}

// ListCreditRecords pages through records most-recently-updated first.
func (s *FileStore) ListCreditRecords(pageSize int, cursor string) ([]domain.CreditRecord, string, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	s.mu.Lock()
	all := make([]domain.CreditRecord, 0, len(s.doc.Credits))
	for _, rec := range s.doc.Credits {
		all = append(all, rec)
	}
	s.mu.Unlock()

	sortCreditRecords(all)
	if cursor != "" {
		cursorAt, cursorKey, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		filtered := all[:0]
		for _, rec := range all {
			if afterCursor(rec, cursorAt, cursorKey) {
				filtered = append(filtered, rec)
			}
		}
		all = filtered
	}
	if len(all) > pageSize {
		all = all[:pageSize]
	}
	next := ""
	if len(all) == pageSize {
		next = encodeCursor(all[len(all)-1])
	}
	return all, next, nil
}

func restoreUser(u fileUser) domain.User {
	user := u.User
	user.PasswordHash = u.PasswordHash
	return user
}
