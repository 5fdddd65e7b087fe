package domain

import "time"

type ActionKind string

const (
	ActionImageToPrompt ActionKind = "image_to_prompt"
	ActionAnalyzeImage  ActionKind = "analyze_image"
	ActionChat          ActionKind = "chat"
	ActionBuildPrompt   ActionKind = "build_prompt"
)

type PromptStyle string

const (
	StyleNormal          PromptStyle = "normal"
	StyleMidjourney      PromptStyle = "midjourney"
	StyleStableDiffusion PromptStyle = "stable-diffusion"
	StyleFlux            PromptStyle = "flux"
)

type User struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"`
	Credits      int            `json:"credits"`
	Premium      bool           `json:"premium"`
	Admin        bool           `json:"admin"`
	History      []HistoryEntry `json:"history"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// HistoryEntry records one billed action on a user account.
// Entries are append-only; nothing mutates or deletes them.
type HistoryEntry struct {
	ID        string     `json:"id"`
	Action    ActionKind `json:"action"`
	Details   string     `json:"details,omitempty"`
	Cost      int        `json:"cost"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreditRecord is the advisory balance tracked per opaque session key for
// visitors that never register an account.
type CreditRecord struct {
	Key       string    `json:"key"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreditPatch is a partial update applied by Store.MergeCreditRecord.
// Nil fields are left untouched on the stored record.
type CreditPatch struct {
	Credits   *int
	UpdatedAt *time.Time
}
