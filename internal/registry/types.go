package registry

import (
	"context"
	"errors"
)

// Record is one verified member identity within a room.
type Record struct {
	Handle string `json:"codeforces_handle"`
	Points int    `json:"points"`
}

// Document is the full persisted state: room id → member id → record.
// It is loaded whole before each read and rewritten whole after each
// mutation.
type Document map[string]map[string]Record

// Store persists the registry document. Implementations rewrite the entire
// document on Save; callers serialize access.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// Entry is one leaderboard row.
type Entry struct {
	MemberID string
	Handle   string
	Points   int
}

var (
	ErrNotRegistered     = errors.New("member is not registered")
	ErrAlreadyRegistered = errors.New("member is already registered")
	ErrHandleConflict    = errors.New("handle is registered by another member")
	ErrHandleUnchanged   = errors.New("handle is unchanged")
)
