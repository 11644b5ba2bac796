// Package wiki holds the interface to the external wiki collaborator, the
// per-title page lock, and the markup this bot generates.
//
// Page fetch/edit, account status and the registration log are owned by an
// external collaborator process; this package only specifies the contract
// greeterbot needs and a thin HTTP bridge to reach it.
package wiki

import (
	"context"
	"time"
)

// MediaWiki namespace numbers the bot cares about.
const (
	NamespaceArticle  = 0
	NamespaceUser     = 2
	NamespaceUserTalk = 3
	NamespaceSpecial  = -1
)

// Contribution is one edit from a user's contribution history.
type Contribution struct {
	Title      string
	Namespace  int
	Timestamp  time.Time
	RevisionID int64
}

// NewUser is one entry of the new-registration feed.
type NewUser struct {
	Name         string
	RegisteredAt time.Time
}

// Client is the wiki collaborator contract.
//
// Implementations must tolerate concurrent calls; write serialization per
// page title is the caller's job via PageLocker.
type Client interface {
	// Exists reports whether the page exists.
	Exists(ctx context.Context, title string) (bool, error)

	// Get returns the current text of the page. Missing pages are an error;
	// check Exists first when absence is expected.
	Get(ctx context.Context, title string) (string, error)

	// Save writes new page text with an edit summary.
	Save(ctx context.Context, title, text, summary string) error

	// Protection reports whether the page has any edit protection.
	Protection(ctx context.Context, title string) (bool, error)

	// IsRegistered reports whether the username resolves to a registered
	// local account.
	IsRegistered(ctx context.Context, user string) (bool, error)

	// IsBlocked reports whether the user is blocked locally.
	IsBlocked(ctx context.Context, user string) (bool, error)

	// IsGloballyLocked reports whether the user's global account is locked.
	IsGloballyLocked(ctx context.Context, user string) (bool, error)

	// HasRight reports whether the user holds the named capability.
	HasRight(ctx context.Context, user, right string) (bool, error)

	// LastEvent returns the timestamp of the user's most recent logged
	// activity. The zero time means no activity is known.
	LastEvent(ctx context.Context, user string) (time.Time, error)

	// Contributions returns up to limit recent edits by the user.
	Contributions(ctx context.Context, user string, limit int) ([]Contribution, error)

	// NewUsers returns locally registered accounts created in [from, to).
	NewUsers(ctx context.Context, from, to time.Time) ([]NewUser, error)
}
