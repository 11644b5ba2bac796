package roster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikigreet/greeterbot/internal/wiki"
	"github.com/wikigreet/greeterbot/internal/wiki/wikitest"
)

var rosterNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedLine renders one roster entry the way greeters sign up.
func signedLine(name string) string {
	return "# [[Benutzer:" + name + "|" + name + "]] 12:34, 1. Mär. 2026 (CET)"
}

func rosterPage(lines ...string) string {
	text := "Intro text.\n\n== Begrüßungsteam ==\n"
	for _, l := range lines {
		text += l + "\n"
	}
	text += "\n== Nächster Abschnitt ==\nEgal.\n"
	return text
}

// activeGreeter registers a fully eligible greeter on the fake.
func activeGreeter(f *wikitest.Fake, name string) {
	f.AddUser(name, "review")
	f.LastEvents[name] = rosterNow.Add(-time.Hour)
}

func newTestLoader(t *testing.T, f *wikitest.Fake) *Loader {
	t.Helper()
	l, err := NewLoader(f, wiki.DefaultSite(), testLogger(), WithNow(func() time.Time { return rosterNow }))
	require.NoError(t, err)
	return l
}

func TestLoad_ParsesEligibleGreeters(t *testing.T) {
	f := wikitest.New()
	activeGreeter(f, "Alice")
	activeGreeter(f, "Dave")
	f.Pages[wiki.DefaultSite().RosterPage] = rosterPage(signedLine("Alice"), signedLine("Dave"))

	snap, err := newTestLoader(t, f).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Eligible, 2)
	assert.Equal(t, "Alice", snap.Eligible[0].Name)
	assert.Equal(t, "[[Benutzer:Alice|Alice]]", snap.Eligible[0].Signature)
	assert.Equal(t, "Dave", snap.Eligible[1].Name)
	assert.Equal(t, []string{"Alice", "Dave"}, snap.Named)
}

func TestLoad_SkipsUnparseableLines(t *testing.T) {
	f := wikitest.New()
	activeGreeter(f, "Alice")
	f.Pages[wiki.DefaultSite().RosterPage] = rosterPage(
		"# just some text without a signature",
		signedLine("Alice"),
	)

	snap, err := newTestLoader(t, f).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Eligible, 1)
	assert.Equal(t, "Alice", snap.Eligible[0].Name)
}

func TestLoad_RejectsDuplicates(t *testing.T) {
	f := wikitest.New()
	activeGreeter(f, "Alice")
	f.Pages[wiki.DefaultSite().RosterPage] = rosterPage(signedLine("Alice"), signedLine("Alice"))

	snap, err := newTestLoader(t, f).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Eligible, 1)
	assert.Equal(t, []string{"Alice"}, snap.Named, "only the first occurrence counts")
}

func TestLoad_EligibilityChain(t *testing.T) {
	site := wiki.DefaultSite()

	cases := []struct {
		name  string
		setup func(f *wikitest.Fake)
	}{
		{"unregistered", func(f *wikitest.Fake) {
			f.LastEvents["Eve"] = rosterNow.Add(-time.Hour)
		}},
		{"blocked", func(f *wikitest.Fake) {
			activeGreeter(f, "Eve")
			f.Blocked["Eve"] = true
		}},
		{"globally locked", func(f *wikitest.Fake) {
			activeGreeter(f, "Eve")
			f.Locked["Eve"] = true
		}},
		{"no review right", func(f *wikitest.Fake) {
			f.AddUser("Eve")
			f.LastEvents["Eve"] = rosterNow.Add(-time.Hour)
		}},
		{"protected talk page", func(f *wikitest.Fake) {
			activeGreeter(f, "Eve")
			f.Protected[site.TalkPage("Eve")] = true
		}},
		{"inactive", func(f *wikitest.Fake) {
			activeGreeter(f, "Eve")
			f.LastEvents["Eve"] = rosterNow.Add(-25 * time.Hour)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := wikitest.New()
			tc.setup(f)
			f.Pages[site.RosterPage] = rosterPage(signedLine("Eve"))

			snap, err := newTestLoader(t, f).Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, snap.Eligible)
			assert.Equal(t, []string{"Eve"}, snap.Named, "ineligible greeters stay in the named superset")
		})
	}
}

func TestLoad_SignatureResolution(t *testing.T) {
	f := wikitest.New()
	activeGreeter(f, "Alice")
	f.Pages[wiki.DefaultSite().RosterPage] = rosterPage(
		// Talk-page and contributions links resolve too.
		"# [[Benutzer Diskussion:Alice|meld dich]] 12:34, 1. Mär. 2026 (CET)",
		// Subpage links do not name a greeter.
		"# [[Benutzer:Bob/Signatur|Bob]] 12:34, 1. Mär. 2026 (CET)",
	)

	snap, err := newTestLoader(t, f).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Eligible, 1)
	assert.Equal(t, "Alice", snap.Eligible[0].Name)
}

func TestLoad_ContributionsLinkResolution(t *testing.T) {
	f := wikitest.New()
	activeGreeter(f, "Alice")
	f.Pages[wiki.DefaultSite().RosterPage] = rosterPage(
		"# [[Spezial:Beiträge/Alice|Alice]] 12:34, 1. Mär. 2026 (CET)",
	)

	snap, err := newTestLoader(t, f).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Eligible, 1)
	assert.Equal(t, "Alice", snap.Eligible[0].Name)
}

func TestLoad_OptInSubList(t *testing.T) {
	site := wiki.DefaultSite()
	f := wikitest.New()
	activeGreeter(f, "Alice")
	activeGreeter(f, "Dave")

	text := rosterPage(signedLine("Alice"), signedLine("Dave"))
	text += "\n== " + site.NotifySection + " ==\n* [[Benutzer:Alice|Alice]]\n* [[Benutzer:Mallory|Mallory]]\n"
	f.Pages[site.RosterPage] = text

	snap, err := newTestLoader(t, f).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.OptIn["Alice"])
	assert.False(t, snap.OptIn["Dave"])
	assert.False(t, snap.OptIn["Mallory"], "opt-in is only honored for named greeters")
}

func TestLoad_MissingRosterPageIsAnError(t *testing.T) {
	f := wikitest.New()

	_, err := newTestLoader(t, f).Load(context.Background())
	assert.Error(t, err)
}
