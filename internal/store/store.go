// Package store defines the narrow interface the duel core needs from the
// shared record store, plus two adapters: an in-process implementation for
// tests and local play, and a Redis-backed one for real deployments.
//
// Records are JSON documents addressed by slash-separated paths
// ("matches/<id>", "mailboxes/<uid>", "users/<uid>"). Merge keys may
// themselves be sub-paths ("players/u1/progress"), which touch only the
// addressed leaf and leave sibling fields alone.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store connection closed")
)

// Deleted marks a field for removal inside a Merge call. A nil value works
// the same way; the sentinel exists so callers can be explicit.
var Deleted any = nil

// OnChange receives the full record JSON after every change. A nil payload
// means the record was deleted (or never existed).
type OnChange func(raw []byte)

// Store is one participant's connection to the shared record store. Every
// participant holds its own connection; the presence will registered through
// RegisterOnDisconnect fires when that connection drops.
type Store interface {
	// Create stores value under a fresh id inside collection and returns the id.
	Create(ctx context.Context, collection string, value any) (string, error)

	// Read unmarshals the record at path into out. ErrNotFound when absent.
	Read(ctx context.Context, path string, out any) error

	// Write replaces the whole record at path.
	Write(ctx context.Context, path string, value any) error

	// Merge shallow-merges fields into the record at path, creating it if
	// needed. Keys may be sub-paths; nil values delete the addressed field.
	Merge(ctx context.Context, path string, fields map[string]any) error

	// MergeIfAbsent applies fields only when guardField is currently unset on
	// the record. Reports whether the write was applied. This is the
	// check-then-write used to close the double-finalization race: finishing
	// writes guard on "winner".
	MergeIfAbsent(ctx context.Context, path, guardField string, fields map[string]any) (bool, error)

	// Subscribe invokes fn with the current record immediately and again after
	// every change until stop is called or ctx is done.
	Subscribe(ctx context.Context, path string, fn OnChange) (stop func(), err error)

	// RegisterOnDisconnect arranges for fields to be merged into the record at
	// path when this connection is lost.
	RegisterOnDisconnect(ctx context.Context, path string, fields map[string]any) error

	// List returns the record ids currently present in collection. Used only
	// by housekeeping sweeps.
	List(ctx context.Context, collection string) ([]string, error)

	// Delete removes the record at path. Deleting an absent record is not an
	// error.
	Delete(ctx context.Context, path string) error

	Close() error
}
