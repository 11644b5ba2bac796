// Package wikitest provides a scripted in-memory wiki collaborator for tests.
package wikitest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wikigreet/greeterbot/internal/wiki"
)

// Save records one Save call.
type Save struct {
	Title   string
	Text    string
	Summary string
}

// Fake implements wiki.Client from in-memory maps. Configure the maps before
// use; all methods are safe for concurrent calls.
type Fake struct {
	mu sync.Mutex

	Pages      map[string]string
	Protected  map[string]bool
	Registered map[string]bool
	Blocked    map[string]bool
	Locked     map[string]bool
	Rights     map[string]map[string]bool
	LastEvents map[string]time.Time
	Contribs   map[string][]wiki.Contribution
	Created    []wiki.NewUser

	// SaveErr injects a failure for saves to the given title.
	SaveErr map[string]error

	// Saves records every successful Save in order.
	Saves []Save
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Pages:      make(map[string]string),
		Protected:  make(map[string]bool),
		Registered: make(map[string]bool),
		Blocked:    make(map[string]bool),
		Locked:     make(map[string]bool),
		Rights:     make(map[string]map[string]bool),
		LastEvents: make(map[string]time.Time),
		Contribs:   make(map[string][]wiki.Contribution),
		SaveErr:    make(map[string]error),
	}
}

// AddUser registers a user with the given capability flags.
func (f *Fake) AddUser(name string, rights ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Registered[name] = true
	if len(rights) > 0 {
		if f.Rights[name] == nil {
			f.Rights[name] = make(map[string]bool)
		}
		for _, r := range rights {
			f.Rights[name][r] = true
		}
	}
}

func (f *Fake) Exists(_ context.Context, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Pages[title]
	return ok, nil
}

func (f *Fake) Get(_ context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.Pages[title]
	if !ok {
		return "", fmt.Errorf("page %q does not exist", title)
	}
	return text, nil
}

func (f *Fake) Save(_ context.Context, title, text, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SaveErr[title]; err != nil {
		return err
	}
	f.Pages[title] = text
	f.Saves = append(f.Saves, Save{Title: title, Text: text, Summary: summary})
	return nil
}

func (f *Fake) Protection(_ context.Context, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Protected[title], nil
}

func (f *Fake) IsRegistered(_ context.Context, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Registered[user], nil
}

func (f *Fake) IsBlocked(_ context.Context, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Blocked[user], nil
}

func (f *Fake) IsGloballyLocked(_ context.Context, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Locked[user], nil
}

func (f *Fake) HasRight(_ context.Context, user, right string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Rights[user][right], nil
}

func (f *Fake) LastEvent(_ context.Context, user string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LastEvents[user], nil
}

func (f *Fake) Contributions(_ context.Context, user string, limit int) ([]wiki.Contribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	contribs := f.Contribs[user]
	if limit > 0 && len(contribs) > limit {
		contribs = contribs[:limit]
	}
	return append([]wiki.Contribution(nil), contribs...), nil
}

func (f *Fake) NewUsers(_ context.Context, from, to time.Time) ([]wiki.NewUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []wiki.NewUser
	for _, u := range f.Created {
		if !u.RegisteredAt.Before(from) && u.RegisteredAt.Before(to) {
			users = append(users, u)
		}
	}
	return users, nil
}

// SavedTitles returns the titles of all recorded saves in order.
func (f *Fake) SavedTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	titles := make([]string, 0, len(f.Saves))
	for _, s := range f.Saves {
		titles = append(titles, s.Title)
	}
	return titles
}
