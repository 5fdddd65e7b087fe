package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptpix/pkg/auth"
	"promptpix/pkg/domain"
	"promptpix/pkg/store"
)

// DefaultStartingCredits is granted to every newly registered account.
const DefaultStartingCredits = 20

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	DataFile        string
	SessionSecret   string
	SessionTTL      time.Duration
	StartingCredits int

	// Store and Sessions override the backends selected from the fields
	// above (used by tests).
	Store    store.Store
	Sessions store.SessionStore
}

// App is the core application service wiring together storage, auth and the
// credit ledger.
type App struct {
	store           store.Store
	sessions        store.SessionStore
	startingCredits int
}

// New constructs the application. Postgres is selected when a database URL is
// set, the JSON file store when a data file path is set; with neither, every
// storage-backed operation reports store.ErrNotConfigured.
func New(cfg Config) (*App, error) {
	if cfg.StartingCredits == 0 {
		cfg.StartingCredits = DefaultStartingCredits
	}
	if cfg.StartingCredits < 0 {
		return nil, fmt.Errorf("starting credits must be >= 0")
	}

	dataStore := cfg.Store
	if dataStore == nil {
		switch {
		case cfg.DatabaseURL != "":
			gormStore, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gormStore
		case cfg.DataFile != "":
			fileStore, err := store.NewFileStore(cfg.DataFile)
			if err != nil {
				return nil, fmt.Errorf("init file store: %w", err)
			}
			dataStore = fileStore
		default:
			dataStore = store.NewNotConfigured()
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		jwtStore, err := store.NewJWTSessionStore(cfg.SessionSecret, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
		sessionStore = jwtStore
	}

	return &App{
		store:           dataStore,
		sessions:        sessionStore,
		startingCredits: cfg.StartingCredits,
	}, nil
}

// Register creates a new account and issues a session token. The returned
// user never carries the password hash into responses.
func (a *App) Register(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, "", ErrUsernameAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUsername(store.UsernameKey(username))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrUsernameTaken
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Credits:      a.startingCredits,
		History:      []domain.HistoryEntry{},
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token. Unknown usernames
// and wrong passwords yield the same error.
func (a *App) Login(username, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByUsername(store.UsernameKey(username))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// AppendHistory records one billed action on a user account and deducts its
// cost from the account balance.
func (a *App) AppendHistory(userID string, action domain.ActionKind, details string, cost int) (domain.HistoryEntry, error) {
	if cost < 0 {
		return domain.HistoryEntry{}, ErrNegativeCredits
	}
	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Details:   details,
		Cost:      cost,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendHistory(userID, entry); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("append history: %w", err)
	}
	if cost > 0 {
		user, found, err := a.store.GetUserByID(userID)
		if err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("fetch user: %w", err)
		}
		if found {
			user.Credits -= cost
			if user.Credits < 0 {
				user.Credits = 0
			}
			if err := a.store.SaveUser(user); err != nil {
				return domain.HistoryEntry{}, fmt.Errorf("save user: %w", err)
			}
		}
	}
	return entry, nil
}

// History returns a user's recorded actions, oldest first.
func (a *App) History(userID string) ([]domain.HistoryEntry, error) {
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return user.History, nil
}

// InitCredits sets a session key's balance unconditionally, creating or
// replacing the record.
func (a *App) InitCredits(key string, amount int) (domain.CreditRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CreditRecord{}, ErrSessionKeyRequired
	}
	if amount < 0 {
		return domain.CreditRecord{}, ErrNegativeCredits
	}
	now := time.Now().UTC()
	rec := domain.CreditRecord{
		Key:       key,
		Credits:   amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.PutCreditRecord(rec); err != nil {
		return domain.CreditRecord{}, fmt.Errorf("put credit record: %w", err)
	}
	return rec, nil
}

// GetCredits reads a session key's balance. Absence is reported through the
// bool, not an error.
func (a *App) GetCredits(key string) (domain.CreditRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CreditRecord{}, false, ErrSessionKeyRequired
	}
	rec, ok, err := a.store.GetCreditRecord(key)
	if err != nil {
		return domain.CreditRecord{}, false, fmt.Errorf("get credit record: %w", err)
	}
	return rec, ok, nil
}

// UpdateCredits merges a new balance into a session key's record, creating it
// when absent. The ledger is advisory; concurrent writers race and the last
// one wins.
func (a *App) UpdateCredits(key string, amount int) (domain.CreditRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CreditRecord{}, ErrSessionKeyRequired
	}
	if amount < 0 {
		return domain.CreditRecord{}, ErrNegativeCredits
	}
	now := time.Now().UTC()
	patch := domain.CreditPatch{Credits: &amount, UpdatedAt: &now}
	if err := a.store.MergeCreditRecord(key, patch); err != nil {
		return domain.CreditRecord{}, fmt.Errorf("merge credit record: %w", err)
	}
	rec, _, err := a.store.GetCreditRecord(key)
	if err != nil {
		return domain.CreditRecord{}, fmt.Errorf("get credit record: %w", err)
	}
	return rec, nil
}

// ListCreditRecords pages through the ledger, most recently updated first.
func (a *App) ListCreditRecords(pageSize int, cursor string) ([]domain.CreditRecord, string, error) {
	return a.store.ListCreditRecords(pageSize, cursor)
}

// ListUsers returns every account (admin use).
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}
