// Package scheduler runs the periodic greeting batch.
//
// Each cycle reloads the greeter roster, discovers recently registered users,
// splits them deterministically into a greeted and a control group, performs
// the welcome edits and records the outcome in the state store. A failed
// cycle is logged and the loop carries on with the next one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/wikigreet/greeterbot/internal/bucket"
	"github.com/wikigreet/greeterbot/internal/roster"
	"github.com/wikigreet/greeterbot/internal/store"
	"github.com/wikigreet/greeterbot/internal/wiki"
)

// idlePoll is how often the loop re-checks the clock outside active hours.
const idlePoll = time.Minute

// Outcome classifies one attempted greeting.
type Outcome int

const (
	// OutcomeGreeted means the welcome was written and recorded.
	OutcomeGreeted Outcome = iota

	// OutcomeSkippedRace means another actor created the talk page first.
	OutcomeSkippedRace

	// OutcomeFailed means the greeting could not be completed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGreeted:
		return "greeted"
	case OutcomeSkippedRace:
		return "skipped-race"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options tune the batch loop. Zero values fall back to the defaults.
type Options struct {
	// ActiveFromHour and ActiveToHour bound the local-time window in which
	// cycles run. Outside the window the loop idles.
	ActiveFromHour int
	ActiveToHour   int

	// CycleDelay is the pause after each cycle.
	CycleDelay time.Duration

	// Lookback bounds the first cycle's registration window; later cycles
	// resume from the previous successful cycle's window end.
	Lookback time.Duration

	// Lag keeps the window's upper edge this far behind now, so the
	// upstream feed has settled and freshly created accounts are not raced.
	Lag time.Duration

	// Location is the timezone for the active-hours check and log dates.
	Location *time.Location

	// Now overrides the clock, for tests.
	Now func() time.Time

	// Rand picks greeters; defaults to the global source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.ActiveFromHour == 0 && o.ActiveToHour == 0 {
		o.ActiveFromHour, o.ActiveToHour = 8, 22
	}
	if o.CycleDelay == 0 {
		o.CycleDelay = 30 * time.Minute
	}
	if o.Lookback == 0 {
		o.Lookback = 24 * time.Hour
	}
	if o.Lag == 0 {
		o.Lag = 10 * time.Minute
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Report summarizes one finished cycle.
type Report struct {
	Greeted     int
	SkippedRace int
	Failed      int
	Control     int
}

// Scheduler owns the batch loop.
type Scheduler struct {
	store    store.Store
	client   wiki.Client
	site     wiki.Site
	roster   *roster.Loader
	splitter bucket.Splitter
	locker   *wiki.PageLocker
	logger   *slog.Logger
	opts     Options

	lastWindowEnd time.Time
}

// New wires a Scheduler from its collaborators.
func New(st store.Store, client wiki.Client, site wiki.Site, loader *roster.Loader, splitter bucket.Splitter, locker *wiki.PageLocker, logger *slog.Logger, opts Options) *Scheduler {
	return &Scheduler{
		store:    st,
		client:   client,
		site:     site,
		roster:   loader,
		splitter: splitter,
		locker:   locker,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// Run executes cycles until ctx is done. Cycle failures are logged, never
// fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if !s.inActiveHours(s.opts.Now()) {
			if err := sleep(ctx, idlePoll); err != nil {
				return err
			}
			continue
		}
		report, err := s.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.logger.Error("batch cycle failed", "error", err)
		default:
			s.logger.Info("batch cycle finished",
				"greeted", report.Greeted,
				"control", report.Control,
				"skipped_race", report.SkippedRace,
				"failed", report.Failed)
		}
		if err := sleep(ctx, s.opts.CycleDelay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) inActiveHours(now time.Time) bool {
	hour := now.In(s.opts.Location).Hour()
	return hour >= s.opts.ActiveFromHour && hour < s.opts.ActiveToHour
}

// RunCycle performs one full batch cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	cycleStart := s.opts.Now()
	logger := s.logger.With("cycle", uuid.NewString())

	snapshot, err := s.roster.Load(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reload roster: %w", err)
	}
	if len(snapshot.Eligible) == 0 {
		return Report{}, errors.New("no eligible greeters")
	}

	until := cycleStart.Add(-s.opts.Lag)
	since := s.lastWindowEnd
	if since.IsZero() {
		since = until.Add(-s.opts.Lookback)
	}
	candidates, err := s.usersToGreet(ctx, logger, since, until)
	if err != nil {
		return Report{}, err
	}
	logger.Info("cycle starting",
		"greeters", len(snapshot.Eligible),
		"candidates", len(candidates),
		"window_from", since,
		"window_to", until)

	var report Report
	greetings := make(map[string][]string)
	for _, user := range candidates {
		if s.splitter.IsControlGroup(user) {
			if err := s.store.PutControlGroup(ctx, user); err != nil {
				logger.Warn("could not record control-group user", "user", user, "error", err)
				report.Failed++
				continue
			}
			report.Control++
			continue
		}
		greeter := snapshot.Eligible[s.intn(len(snapshot.Eligible))]
		outcome := s.greetOne(ctx, logger, greeter, user)
		switch outcome {
		case OutcomeGreeted:
			report.Greeted++
			greetings[greeter.Name] = append(greetings[greeter.Name], user)
		case OutcomeSkippedRace:
			report.SkippedRace++
		case OutcomeFailed:
			report.Failed++
		}
	}

	logDate := cycleStart.In(s.opts.Location)
	for greeter, users := range greetings {
		if err := s.appendGreetingLog(ctx, greeter, logDate, users); err != nil {
			logger.Warn("could not update greeting log", "greeter", greeter, "error", err)
		}
	}

	// Resume from the window's end, not the cycle start. Accounts inside the
	// lag interval stay ahead of the resumed window and are picked up next
	// cycle instead of falling into a permanent gap.
	s.lastWindowEnd = until
	return report, nil
}

// usersToGreet queries registrations in [since, until) and drops accounts
// that are blocked, globally locked or already have a talk page. Per-user
// lookup failures skip the user, not the cycle.
func (s *Scheduler) usersToGreet(ctx context.Context, logger *slog.Logger, since, until time.Time) ([]string, error) {
	created, err := s.client.NewUsers(ctx, since, until)
	if err != nil {
		return nil, fmt.Errorf("query new registrations: %w", err)
	}
	var users []string
	for _, u := range created {
		blocked, err := s.client.IsBlocked(ctx, u.Name)
		if err != nil {
			logger.Warn("skipping user, block check failed", "user", u.Name, "error", err)
			continue
		}
		if blocked {
			continue
		}
		locked, err := s.client.IsGloballyLocked(ctx, u.Name)
		if err != nil {
			logger.Warn("skipping user, lock check failed", "user", u.Name, "error", err)
			continue
		}
		if locked {
			continue
		}
		exists, err := s.client.Exists(ctx, s.site.TalkPage(u.Name))
		if err != nil {
			logger.Warn("skipping user, talk page check failed", "user", u.Name, "error", err)
			continue
		}
		if exists {
			continue
		}
		users = append(users, u.Name)
	}
	return users, nil
}

// greetOne writes the welcome message and records the greeting. The talk
// page is re-checked under the page lock; losing that race skips the user.
func (s *Scheduler) greetOne(ctx context.Context, logger *slog.Logger, greeter roster.Greeter, user string) Outcome {
	title := s.site.TalkPage(user)
	if err := s.locker.Acquire(title, true); err != nil {
		logger.Warn("could not lock talk page", "user", user, "error", err)
		return OutcomeFailed
	}
	defer s.locker.Release(title)

	exists, err := s.client.Exists(ctx, title)
	if err != nil {
		logger.Warn("greeting failed, talk page check", "user", user, "error", err)
		return OutcomeFailed
	}
	if exists {
		// Another actor created the page since the candidate scan.
		logger.Info("talk page appeared concurrently, not greeting", "user", user)
		return OutcomeSkippedRace
	}
	if err := s.client.Save(ctx, title, s.site.WelcomeText(greeter.Signature), s.site.WelcomeSummary); err != nil {
		logger.Warn("greeting failed, welcome write", "user", user, "greeter", greeter.Name, "error", err)
		return OutcomeFailed
	}
	if err := s.store.PutGreeted(ctx, user, greeter.Name); err != nil {
		logger.Warn("greeting written but not recorded", "user", user, "greeter", greeter.Name, "error", err)
		return OutcomeFailed
	}
	logger.Info("greeted user", "user", user, "greeter", greeter.Name)
	return OutcomeGreeted
}

// appendGreetingLog adds one batched set of log entries to the greeter's log
// page under the current date section.
func (s *Scheduler) appendGreetingLog(ctx context.Context, greeter string, date time.Time, users []string) error {
	title := s.site.GreetingLogPage(greeter)
	if err := s.locker.Acquire(title, true); err != nil {
		return err
	}
	defer s.locker.Release(title)

	text := ""
	exists, err := s.client.Exists(ctx, title)
	if err != nil {
		return err
	}
	if exists {
		if text, err = s.client.Get(ctx, title); err != nil {
			return err
		}
	}
	entries := make([]string, 0, len(users))
	for _, user := range users {
		entries = append(entries, s.site.LogEntry(user))
	}
	return s.client.Save(ctx, title, s.site.AppendLogEntries(text, greeter, date, entries), s.site.LogSummary)
}

// EnsureGreeterPages seeds a greeting-log page for every named greeter that
// does not have one yet. It backs the pages maintenance command.
func (s *Scheduler) EnsureGreeterPages(ctx context.Context) (int, error) {
	snapshot, err := s.roster.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("reload roster: %w", err)
	}
	created := 0
	for _, greeter := range snapshot.Named {
		title := s.site.GreetingLogPage(greeter)
		exists, err := s.client.Exists(ctx, title)
		if err != nil {
			return created, fmt.Errorf("check log page for %s: %w", greeter, err)
		}
		if exists {
			continue
		}
		if err := s.client.Save(ctx, title, s.site.LogHeader(greeter), s.site.LogSummary); err != nil {
			return created, fmt.Errorf("create log page for %s: %w", greeter, err)
		}
		s.logger.Info("created greeting log page", "greeter", greeter)
		created++
	}
	return created, nil
}

func (s *Scheduler) intn(n int) int {
	if s.opts.Rand != nil {
		return s.opts.Rand.Intn(n)
	}
	return rand.Intn(n)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
