// ABOUTME: Store interface and data types for bookshelf-gateway persistence
// ABOUTME: Defines durable actor state and the tool invocation log

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UpdateFunc receives the current state of an actor (nil when none exists)
// and returns the state to persist. Returning an error aborts the update and
// leaves the stored state untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Invocation records one tool call against an actor.
type Invocation struct {
	ID        int64
	ActorKey  string
	Tool      string
	Outcome   string // "ok", "invalid", "error"
	CreatedAt time.Time
}

// Invocation outcomes
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Store persists per-actor state as opaque blobs keyed by actor key.
type Store interface {
	// GetActorState returns the stored state or ErrNotFound.
	GetActorState(ctx context.Context, actorKey string) ([]byte, error)

	// SaveActorState replaces the stored state.
	SaveActorState(ctx context.Context, actorKey string, state []byte) error

	// UpdateActorState runs a read-modify-write in a single transaction.
	UpdateActorState(ctx context.Context, actorKey string, fn UpdateFunc) error

	// RecordInvocation appends to the invocation log.
	RecordInvocation(ctx context.Context, inv *Invocation) error

	// ListInvocations returns the newest invocations for an actor, newest first.
	ListInvocations(ctx context.Context, actorKey string, limit int) ([]*Invocation, error)

	Close() error
}
