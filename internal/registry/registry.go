package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/obslog"
	"go.uber.org/zap"
)

// Registry owns all identity records. Every mutation is a serialized
// load-modify-save cycle over the backing store, which keeps concurrent duel
// resolutions from clobbering each other's point updates.
type Registry struct {
	mu    sync.Mutex
	store Store
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

// Get returns the record for a member, or ErrNotRegistered.
func (r *Registry) Get(ctx context.Context, room, memberID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.store.Load(ctx)
	if err != nil {
		return Record{}, err
	}
	rec, ok := doc[room][memberID]
	if !ok {
		return Record{}, ErrNotRegistered
	}
	return rec, nil
}

// FindByHandle returns the member id owning handle within room,
// case-insensitively, or "" when unclaimed.
func (r *Registry) FindByHandle(ctx context.Context, room, handle string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.store.Load(ctx)
	if err != nil {
		return "", err
	}
	return findHandleOwner(doc, room, handle), nil
}

// Register creates a record for a newly verified member with zero points.
func (r *Registry) Register(ctx context.Context, room, memberID, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if _, ok := doc[room][memberID]; ok {
		return ErrAlreadyRegistered
	}
	if owner := findHandleOwner(doc, room, handle); owner != "" {
		return ErrHandleConflict
	}
	if doc[room] == nil {
		doc[room] = make(map[string]Record)
	}
	doc[room][memberID] = Record{Handle: handle, Points: 0}
	if err := r.store.Save(ctx, doc); err != nil {
		return err
	}
	obslog.L().Info("registry_register",
		zap.String("room", room),
		zap.String("member_id", memberID),
		zap.String("handle", handle),
	)
	return nil
}

// UpdateHandle swaps a verified member's handle for a re-verified one.
func (r *Registry) UpdateHandle(ctx context.Context, room, memberID, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := doc[room][memberID]
	if !ok {
		return ErrNotRegistered
	}
	if strings.EqualFold(rec.Handle, handle) {
		return ErrHandleUnchanged
	}
	if owner := findHandleOwner(doc, room, handle); owner != "" && owner != memberID {
		return ErrHandleConflict
	}
	rec.Handle = handle
	doc[room][memberID] = rec
	if err := r.store.Save(ctx, doc); err != nil {
		return err
	}
	obslog.L().Info("registry_update_handle",
		zap.String("room", room),
		zap.String("member_id", memberID),
		zap.String("handle", handle),
	)
	return nil
}

// Award adds points to a member and returns the new total. The whole cycle
// runs under the registry mutex so a win and a concurrent mutation cannot
// interleave.
func (r *Registry) Award(ctx context.Context, room, memberID string, points int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	rec, ok := doc[room][memberID]
	if !ok {
		return 0, ErrNotRegistered
	}
	rec.Points += points
	doc[room][memberID] = rec
	if err := r.store.Save(ctx, doc); err != nil {
		return 0, err
	}
	obslog.L().Info("registry_award",
		zap.String("room", room),
		zap.String("member_id", memberID),
		zap.Int("points", points),
		zap.Int("total", rec.Points),
	)
	return rec.Points, nil
}

// Leaderboard returns up to limit entries for a room, highest points first.
// Ties order by member id for stable output.
func (r *Registry) Leaderboard(ctx context.Context, room string, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	members := doc[room]
	entries := make([]Entry, 0, len(members))
	for id, rec := range members {
		entries = append(entries, Entry{MemberID: id, Handle: rec.Handle, Points: rec.Points})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].MemberID < entries[j].MemberID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func findHandleOwner(doc Document, room, handle string) string {
	for id, rec := range doc[room] {
		if strings.EqualFold(rec.Handle, handle) {
			return id
		}
	}
	return ""
}
