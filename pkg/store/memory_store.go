package store

import (
	"fmt"
	"sort"
	"sync"

	"promptpix/pkg/domain"
)

// MemoryStore keeps all records in-process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User         // user ID -> user
	byName  map[string]string              // username key -> user ID
	order   []string                       // user insertion order
	credits map[string]domain.CreditRecord // session key -> record
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		byName:  make(map[string]string),
		credits: make(map[string]domain.CreditRecord),
	}
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; !exists {
		m.order = append(m.order, u.ID)
	}
	m.users[u.ID] = u
	m.byName[UsernameKey(u.Username)] = u.ID
	return nil
}

// HasUsername checks whether the normalized username exists.
func (m *MemoryStore) HasUsername(usernameKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byName[usernameKey]
	return ok, nil
}

// GetUserByUsername looks up a user by normalized username.
func (m *MemoryStore) GetUserByUsername(usernameKey string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[usernameKey]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns users in registration order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.order))
	for _, id := range m.order {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

// AppendHistory appends one entry to the user's history.
func (m *MemoryStore) AppendHistory(userID string, entry domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.History = append(u.History, entry)
	m.users[userID] = u
	return nil
}

// GetCreditRecord retrieves a session credit record.
func (m *MemoryStore) GetCreditRecord(key string) (domain.CreditRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.credits[key]
	return rec, ok, nil
}

// PutCreditRecord creates or replaces a credit record wholesale.
func (m *MemoryStore) PutCreditRecord(rec domain.CreditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[rec.Key] = rec
	return nil
}

// MergeCreditRecord updates only the fields set on the patch, creating the
// record when the key does not exist.
func (m *MemoryStore) MergeCreditRecord(key string, patch domain.CreditPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.credits[key]
	if !ok {
		now := nowUTC()
		rec = domain.CreditRecord{Key: key, CreatedAt: now, UpdatedAt: now}
	}
	applyCreditPatch(&rec, patch)
	m.credits[key] = rec
	return nil
}

// ListCreditRecords pages through records most-recently-updated first.
func (m *MemoryStore) ListCreditRecords(pageSize int, cursor string) ([]domain.CreditRecord, string, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	m.mu.RLock()
	all := make([]domain.CreditRecord, 0, len(m.credits))
	for _, rec := range m.credits {
		all = append(all, rec)
	}
	m.mu.RUnlock()

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

func sortCreditRecords(records []domain.CreditRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].UpdatedAt.UTC(), records[j].UpdatedAt.UTC()
		if !a.Equal(b) {
			return a.After(b)
		}
		return records[i].Key > records[j].Key
	})
}
