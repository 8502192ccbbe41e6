// Package bindings holds the scope → destination mapping that drives fan-out.
package bindings

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

var ErrInvalid = errors.New("scope and destination must be non-empty")

// Registry is the in-memory view of the persisted bindings.
//
// Mutations are written to the backend first; memory changes only when the
// backend accepted them.
type Registry struct {
	store storage.Store
	log   logx.Logger

	mu sync.RWMutex
	m  map[string]string
}

// Load builds a Registry from the backend's current content.
func Load(ctx context.Context, store storage.Store, log logx.Logger) (*Registry, error) {
	if store == nil {
		return nil, errors.New("bindings: nil store")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m, err := store.LoadBindings(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]string{}
	}
	log.Info("bindings loaded", logx.Int("count", len(m)))
	return &Registry{store: store, log: log, m: m}, nil
}

// All returns the deduplicated destination ids, sorted for stable output.
func (r *Registry) All(context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{}, len(r.m))
	for _, d := range r.m {
		set[d] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Get(_ context.Context, scopeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.m[scopeID]
	return d, ok
}

// Snapshot returns a copy of the full mapping.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Set binds scopeID to destinationID, replacing any previous binding.
func (r *Registry) Set(ctx context.Context, scopeID, destinationID string) error {
	scopeID = strings.TrimSpace(scopeID)
	destinationID = strings.TrimSpace(destinationID)
	if scopeID == "" || destinationID == "" {
		return ErrInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.PutBinding(ctx, scopeID, destinationID); err != nil {
		return err
	}
	r.m[scopeID] = destinationID
	r.log.Info("binding set", logx.String("scope", scopeID), logx.String("destination", destinationID))
	return nil
}

// Remove unbinds scopeID. It reports false when there was nothing to remove.
func (r *Registry) Remove(ctx context.Context, scopeID string) (bool, error) {
	scopeID = strings.TrimSpace(scopeID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[scopeID]; !ok {
		return false, nil
	}
	if err := r.store.DeleteBinding(ctx, scopeID); err != nil {
		return false, err
	}
	delete(r.m, scopeID)
	r.log.Info("binding removed", logx.String("scope", scopeID))
	return true, nil
}
