package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Store is the persistence API used by the bindings registry and the
// command layer. Mutations are durable when they return nil.
type Store interface {
	LoadBindings(ctx context.Context) (map[string]string, error)
	PutBinding(ctx context.Context, scopeID, destinationID string) error
	DeleteBinding(ctx context.Context, scopeID string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action (bind, unbind, rejected attempt).
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ScopeID       string    `json:"scope_id"`
	Action        string    `json:"action"`
	Destination   string    `json:"destination,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
}
