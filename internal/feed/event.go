// Package feed consumes the live edit-event feed over a websocket and turns
// raw messages into typed events. Messages are validated against an embedded
// JSON schema; anything malformed is logged and skipped rather than tearing
// down the stream.
package feed

import (
	"context"
	"time"
)

// Kind classifies a feed event.
type Kind string

const (
	// KindEdit is an ordinary page edit.
	KindEdit Kind = "edit"

	// KindNew is a page creation.
	KindNew Kind = "new"

	// KindLog is a logged action such as a page move or deletion.
	KindLog Kind = "log"
)

// Event is one change reported by the edit-event feed.
type Event struct {
	// User is the acting username.
	User string

	// Title is the full page title including its namespace prefix.
	Title string

	// Namespace is the numeric namespace of the edited page.
	Namespace int

	Kind Kind

	// Timestamp is when the change happened, in UTC.
	Timestamp time.Time

	// RevisionID is the resulting revision, zero for log events.
	RevisionID int64
}

// Feed yields edit events until closed.
type Feed interface {
	// Next blocks until the next well-formed event arrives. It returns an
	// error when the underlying connection fails or ctx is done.
	Next(ctx context.Context) (Event, error)

	Close() error
}

// Dialer opens a fresh feed connection. The correlator redials through one
// of these after every connection loss.
type Dialer func(ctx context.Context) (Feed, error)
