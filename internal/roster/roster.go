// Package roster loads and validates the eligible-greeter list.
//
// Greeters sign up on a project page; the roster parses the recognized
// section, resolves each signed line to a user, and applies the eligibility
// rules. The result is an immutable snapshot scoped to one batch cycle;
// there is no shared mutable greeter list.
package roster

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/wikigreet/greeterbot/internal/wiki"
)

// activityWindow is how recently a greeter must have been active.
const activityWindow = 24 * time.Hour

// linkPattern matches one wikilink and captures its target.
var linkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)

// Greeter is one eligible volunteer, valid for a single batch cycle.
type Greeter struct {
	Name string
	// Signature is the greeter's signature without its timestamp, used
	// verbatim in generated welcome messages.
	Signature string
}

// Snapshot is the immutable result of one roster load.
type Snapshot struct {
	// Eligible greeters in roster order.
	Eligible []Greeter

	// Named is the full superset of resolved names, pre-eligibility.
	Named []string

	// OptIn marks greeters who requested talk-page notifications.
	OptIn map[string]bool
}

// Loader parses the roster page against a wiki client.
type Loader struct {
	client    wiki.Client
	site      wiki.Site
	logger    *slog.Logger
	now       func() time.Time
	signature *regexp.Regexp
	section   *regexp.Regexp
	notify    *regexp.Regexp
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// NewLoader compiles the site's signature pattern and returns a Loader.
func NewLoader(client wiki.Client, site wiki.Site, logger *slog.Logger, opts ...LoaderOption) (*Loader, error) {
	signature, err := regexp.Compile(site.SignaturePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid signature pattern: %w", err)
	}
	l := &Loader{
		client:    client,
		site:      site,
		logger:    logger,
		now:       time.Now,
		signature: signature,
		section:   sectionHeader(site.RosterSection),
		notify:    sectionHeader(site.NotifySection),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func sectionHeader(title string) *regexp.Regexp {
	return regexp.MustCompile(`^==\s*` + regexp.QuoteMeta(title) + `\s*==\s*$`)
}

// Load fetches the roster page and returns a fresh snapshot.
//
// Unparseable lines and ineligible greeters are logged and skipped; only a
// failure to fetch the page itself is an error.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	text, err := l.client.Get(ctx, l.site.RosterPage)
	if err != nil {
		return nil, fmt.Errorf("load roster page: %w", err)
	}

	snapshot := &Snapshot{OptIn: make(map[string]bool)}
	seen := make(map[string]bool)
	lines := strings.Split(text, "\n")

	inSection := false
	for _, line := range lines {
		if inSection {
			if strings.HasPrefix(line, "=") {
				break
			}
			if !strings.HasPrefix(line, "#") {
				continue
			}
			match := l.signature.FindStringSubmatch(line)
			if match == nil {
				l.logger.Warn("could not parse greeter line", "line", line)
				continue
			}
			signature := match[1]
			name := l.userFromSignature(signature)
			if name == "" {
				l.logger.Warn("could not extract greeter name from signature", "signature", signature)
				continue
			}
			if seen[name] {
				l.logger.Warn("duplicate greeter", "greeter", name)
				continue
			}
			seen[name] = true
			snapshot.Named = append(snapshot.Named, name)
			if l.isEligible(ctx, name) {
				snapshot.Eligible = append(snapshot.Eligible, Greeter{Name: name, Signature: signature})
			}
		} else if l.section.MatchString(line) {
			inSection = true
		}
	}

	l.loadOptIn(lines, seen, snapshot)
	return snapshot, nil
}

// loadOptIn scans the notification-preference sub-list. Only names already
// on the roster count.
func (l *Loader) loadOptIn(lines []string, named map[string]bool, snapshot *Snapshot) {
	inSection := false
	for _, line := range lines {
		if inSection {
			if strings.HasPrefix(line, "=") {
				break
			}
			if !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "*") {
				continue
			}
			name := l.userFromSignature(line)
			if name == "" {
				continue
			}
			if !named[name] {
				l.logger.Warn("notification opt-in for unknown greeter", "greeter", name)
				continue
			}
			snapshot.OptIn[name] = true
		} else if l.notify.MatchString(line) {
			inSection = true
		}
	}
}

// userFromSignature resolves a signature to a username via its wikilinks.
// User and user-talk links count, as do contributions links; subpage links
// are rejected.
func (l *Loader) userFromSignature(text string) string {
	for _, match := range linkPattern.FindAllStringSubmatch(text, -1) {
		target := strings.TrimSpace(match[1])
		if target == "" {
			continue
		}
		for _, prefix := range []string{l.site.UserPrefix, l.site.UserTalkPrefix} {
			if name, ok := strings.CutPrefix(target, prefix); ok {
				if name != "" && !strings.Contains(name, "/") {
					return name
				}
			}
		}
		if name, ok := strings.CutPrefix(target, l.site.ContributionsPrefix); ok && name != "" {
			return name
		}
	}
	return ""
}

// isEligible applies the eligibility rules in order, short-circuiting on the
// first failure. Collaborator errors count as ineligible for this cycle.
func (l *Loader) isEligible(ctx context.Context, name string) bool {
	registered, err := l.client.IsRegistered(ctx, name)
	if err != nil || !registered {
		l.warnIneligible(name, "not a registered user", err)
		return false
	}
	blocked, err := l.client.IsBlocked(ctx, name)
	if err != nil || blocked {
		l.warnIneligible(name, "blocked", err)
		return false
	}
	locked, err := l.client.IsGloballyLocked(ctx, name)
	if err != nil || locked {
		l.warnIneligible(name, "globally locked", err)
		return false
	}
	review, err := l.client.HasRight(ctx, name, l.site.ReviewRight)
	if err != nil || !review {
		l.warnIneligible(name, "no review right", err)
		return false
	}
	protected, err := l.client.Protection(ctx, l.site.TalkPage(name))
	if err != nil || protected {
		l.warnIneligible(name, "talk page protected", err)
		return false
	}
	lastEvent, err := l.client.LastEvent(ctx, name)
	if err != nil {
		l.warnIneligible(name, "last activity unknown", err)
		return false
	}
	if lastEvent.Before(l.now().Add(-activityWindow)) {
		// Not active in the last 24 hours; no warning, this is routine.
		return false
	}
	return true
}

func (l *Loader) warnIneligible(name, reason string, err error) {
	if err != nil {
		l.logger.Warn("greeter eligibility check failed", "greeter", name, "check", reason, "error", err)
		return
	}
	l.logger.Warn("greeter not eligible", "greeter", name, "reason", reason)
}
