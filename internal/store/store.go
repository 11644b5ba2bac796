package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultRetention is how long greeted and control-group records live before
// the store silently drops them. A user who never edits inside this window
// will never trigger a notification; that loss is accepted.
const DefaultRetention = 90 * 24 * time.Hour

// GreetedRecord is the per-user state written at greet time.
//
// Invariant: a record exists iff the user has been greeted and has not yet
// triggered an own-talk-page notification. The record is created by the batch
// scheduler, flipped once by the live correlator (NormalEditSeen), and deleted
// by the correlator on the terminal own-talk-page transition or by TTL expiry.
type GreetedRecord struct {
	User           string
	Greeter        string
	NormalEditSeen bool
	CreatedAt      time.Time
}

// ControlRecord marks a user bucketed into the control group.
// Written once, never mutated, expires with the same retention window.
type ControlRecord struct {
	User      string
	CreatedAt time.Time
}

// Member is one entry of a durable index set, used for reporting.
type Member struct {
	User    string
	AddedAt time.Time
}

// Store is the single synchronization point between the batch scheduler and
// the live correlator. Both loops may touch overlapping keys at arbitrary
// times; every operation is a single atomic statement so no external locking
// is needed.
//
// Lookups return (nil, nil) when no live record exists; expired rows are
// treated as absent.
type Store interface {
	// PutGreeted creates or overwrites the greeted record for user with
	// NormalEditSeen=false and a fresh TTL, and adds the user to the durable
	// greeted index set. The overwrite is unconditional: a user can only be
	// greeted once per cycle by construction.
	PutGreeted(ctx context.Context, user, greeter string) error

	// GetGreeted returns the live greeted record for user, or nil.
	GetGreeted(ctx context.Context, user string) (*GreetedRecord, error)

	// SetGreetedEditSeen flips NormalEditSeen in place. Best effort: it is a
	// silent no-op when the record has expired or been deleted concurrently,
	// so callers must re-check before acting on stale data.
	SetGreetedEditSeen(ctx context.Context, user string) error

	// RemoveGreeted deletes the greeted record. Idempotent.
	RemoveGreeted(ctx context.Context, user string) error

	// PutControlGroup creates a control-group record only if absent and adds
	// the user to the durable control index set. Idempotent.
	PutControlGroup(ctx context.Context, user string) error

	// GetControlGroup returns the live control record for user, or nil.
	GetControlGroup(ctx context.Context, user string) (*ControlRecord, error)

	// ListGreeted returns the greeted index set in insertion order.
	ListGreeted(ctx context.Context) ([]Member, error)

	// ListControlGroup returns the control index set in insertion order.
	ListControlGroup(ctx context.Context) ([]Member, error)

	// ClearIndexes resets both index sets. Individual TTL'd records are
	// untouched.
	ClearIndexes(ctx context.Context) error

	Close() error
}

// Options configures a store backend.
type Options struct {
	// Namespace prefixes every key with a per-deployment secret so two
	// environments sharing one database never collide. Required.
	Namespace string

	// Retention is the record TTL. Defaults to DefaultRetention.
	Retention time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if strings.TrimSpace(o.Namespace) == "" {
		return o, fmt.Errorf("store namespace must not be empty")
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

// Open selects a backend from the DSN: anything that looks like a Postgres
// connection string gets the networked backend, everything else is treated
// as a SQLite database path.
func Open(dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store DSN must not be empty")
	}
	if isPostgresDSN(dsn) {
		return OpenPostgres(dsn, opts)
	}
	return OpenSQLite(dsn, opts)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
