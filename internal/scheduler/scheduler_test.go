package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikigreet/greeterbot/internal/bucket"
	"github.com/wikigreet/greeterbot/internal/roster"
	"github.com/wikigreet/greeterbot/internal/store"
	"github.com/wikigreet/greeterbot/internal/wiki"
	"github.com/wikigreet/greeterbot/internal/wiki/wikitest"
)

var cycleNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	fake      *wikitest.Fake
	store     store.Store
	scheduler *Scheduler
	now       time.Time
}

// newFixture wires a scheduler against a fake wiki, a temp sqlite store and
// a roster page with the given eligible greeters.
func newFixture(t *testing.T, splitter bucket.Splitter, greeters ...string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	site := wiki.DefaultSite()

	fake := wikitest.New()
	rosterText := "== Begrüßungsteam ==\n"
	for _, g := range greeters {
		fake.AddUser(g, site.ReviewRight)
		fake.LastEvents[g] = cycleNow.Add(-time.Hour)
		rosterText += "# [[Benutzer:" + g + "|" + g + "]] 12:34, 1. Mär. 2026 (CET)\n"
	}
	fake.Pages[site.RosterPage] = rosterText

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "state.db"), store.Options{Namespace: "test-ns"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	loader, err := roster.NewLoader(fake, site, logger, roster.WithNow(func() time.Time { return cycleNow }))
	require.NoError(t, err)

	fx := &fixture{fake: fake, store: st, now: cycleNow}
	fx.scheduler = New(st, fake, site, loader, splitter, wiki.NewPageLocker(), logger, Options{
		Now: func() time.Time { return fx.now },
	})
	return fx
}

// allTreatment buckets every user into the greeted group.
func allTreatment() bucket.Splitter { return bucket.NewSplitter("salt", 10, 0) }

// allControl buckets every user into the control group.
func allControl() bucket.Splitter { return bucket.NewSplitter("salt", 10, 10) }

func register(f *wikitest.Fake, name string, at time.Time) {
	f.Created = append(f.Created, wiki.NewUser{Name: name, RegisteredAt: at})
}

func TestRunCycle_GreetsNewUser(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice")
	register(fx.fake, "Bob", cycleNow.Add(-time.Hour))

	report, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Greeted: 1}, report)

	site := wiki.DefaultSite()
	talk, err := fx.fake.Get(context.Background(), site.TalkPage("Bob"))
	require.NoError(t, err)
	assert.Contains(t, talk, "[[Benutzer:Alice|Alice]]", "welcome carries the greeter signature")

	rec, err := fx.store.GetGreeted(context.Background(), "Bob")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Alice", rec.Greeter)
	assert.False(t, rec.NormalEditSeen)

	log, err := fx.fake.Get(context.Background(), site.GreetingLogPage("Alice"))
	require.NoError(t, err)
	assert.Contains(t, log, "=== 2. March 2026 ===")
	assert.Contains(t, log, "* [[Benutzer Diskussion:Bob|Bob]]")
}

func TestRunCycle_ControlGroupUserIsNotGreeted(t *testing.T) {
	fx := newFixture(t, allControl(), "Alice")
	register(fx.fake, "Carol", cycleNow.Add(-time.Hour))

	report, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Control: 1}, report)

	rec, err := fx.store.GetControlGroup(context.Background(), "Carol")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	greeted, err := fx.store.GetGreeted(context.Background(), "Carol")
	require.NoError(t, err)
	assert.Nil(t, greeted)
	assert.Empty(t, fx.fake.Saves, "no wiki write for control-group users")
}

func TestRunCycle_ExcludesIneligibleAccounts(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice")
	site := wiki.DefaultSite()

	register(fx.fake, "Blocked", cycleNow.Add(-time.Hour))
	fx.fake.Blocked["Blocked"] = true
	register(fx.fake, "Locked", cycleNow.Add(-time.Hour))
	fx.fake.Locked["Locked"] = true
	register(fx.fake, "HasTalk", cycleNow.Add(-time.Hour))
	fx.fake.Pages[site.TalkPage("HasTalk")] = "already welcomed by hand"

	report, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)

	for _, user := range []string{"Blocked", "Locked", "HasTalk"} {
		rec, err := fx.store.GetGreeted(context.Background(), user)
		require.NoError(t, err)
		assert.Nil(t, rec, "%s must not be greeted", user)
	}
}

func TestRunCycle_RegistrationWindowExcludesLag(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice")
	// Registered inside the lag interval right before now.
	register(fx.fake, "Fresh", cycleNow.Add(-time.Minute))

	report, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report, "accounts inside the lag window wait for the next cycle")

	// The next window resumes exactly where this one ended, so the deferred
	// account is greeted then rather than slipping through the lag forever.
	fx.now = cycleNow.Add(30 * time.Minute)
	report, err = fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Greeted: 1}, report, "deferred account must be greeted on the next cycle")

	rec, err := fx.store.GetGreeted(context.Background(), "Fresh")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestRunCycle_SecondCycleResumesFromFirst(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice")
	register(fx.fake, "Bob", cycleNow.Add(-time.Hour))

	_, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	// The next cycle's window starts where the first one ended, so Bob is
	// not re-considered while Eve, registered in between, is picked up.
	register(fx.fake, "Eve", cycleNow.Add(10*time.Minute))
	fx.now = cycleNow.Add(30 * time.Minute)

	report, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Greeted: 1}, report)

	rec, err := fx.store.GetGreeted(context.Background(), "Eve")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestRunCycle_FailedWelcomeWriteIsIsolated(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice")
	site := wiki.DefaultSite()
	register(fx.fake, "Bob", cycleNow.Add(-time.Hour))
	register(fx.fake, "Dave", cycleNow.Add(-time.Hour))
	fx.fake.SaveErr[site.TalkPage("Bob")] = errors.New("edit conflict")

	report, err := fx.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Greeted, "one failed greet must not stop the rest")

	rec, err := fx.store.GetGreeted(context.Background(), "Bob")
	require.NoError(t, err)
	assert.Nil(t, rec, "failed welcome must not be recorded")

	titles := fx.fake.SavedTitles()
	assert.Contains(t, titles, site.TalkPage("Dave"))
	assert.NotContains(t, titles, site.TalkPage("Bob"))
}

func TestRunCycle_NoEligibleGreetersIsAnError(t *testing.T) {
	fx := newFixture(t, allTreatment())
	register(fx.fake, "Bob", cycleNow.Add(-time.Hour))

	_, err := fx.scheduler.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestGreetOne_SkipsWhenTalkPageAppears(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice")
	site := wiki.DefaultSite()
	fx.fake.Pages[site.TalkPage("Bob")] = "created concurrently"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	outcome := fx.scheduler.greetOne(context.Background(), logger, roster.Greeter{Name: "Alice", Signature: "sig"}, "Bob")
	assert.Equal(t, OutcomeSkippedRace, outcome)

	rec, err := fx.store.GetGreeted(context.Background(), "Bob")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEnsureGreeterPages(t *testing.T) {
	fx := newFixture(t, allTreatment(), "Alice", "Dave")
	site := wiki.DefaultSite()
	fx.fake.Pages[site.GreetingLogPage("Alice")] = "existing log"

	created, err := fx.scheduler.EnsureGreeterPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	assert.Equal(t, "existing log", fx.fake.Pages[site.GreetingLogPage("Alice")])
	assert.Equal(t, site.LogHeader("Dave"), fx.fake.Pages[site.GreetingLogPage("Dave")])
}

func TestInActiveHours(t *testing.T) {
	s := New(nil, nil, wiki.DefaultSite(), nil, allTreatment(), wiki.NewPageLocker(),
		slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, s.inActiveHours(day.Add(7*time.Hour+59*time.Minute)))
	assert.True(t, s.inActiveHours(day.Add(8*time.Hour)))
	assert.True(t, s.inActiveHours(day.Add(21*time.Hour+59*time.Minute)))
	assert.False(t, s.inActiveHours(day.Add(22*time.Hour)))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "greeted", OutcomeGreeted.String())
	assert.Equal(t, "skipped-race", OutcomeSkippedRace.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}
