// Package correlator consumes the live edit-event feed and matches each
// event against the per-user state written by the batch scheduler.
//
// The state store is the only synchronization point between the two loops.
// Every transition writes state before emitting its notification, so each of
// the two notifications fires at most once per greeted user even under
// duplicate or out-of-order delivery.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wikigreet/greeterbot/internal/feed"
	"github.com/wikigreet/greeterbot/internal/roster"
	"github.com/wikigreet/greeterbot/internal/store"
	"github.com/wikigreet/greeterbot/internal/wiki"
)

// DefaultReconnectDelay is the pause between feed reconnect attempts.
const DefaultReconnectDelay = 10 * time.Second

// Options tune the correlator. Zero values fall back to the defaults.
type Options struct {
	ReconnectDelay time.Duration

	// Location is the timezone for notification log dates.
	Location *time.Location

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Correlator watches the edit-event feed and triggers greeter notifications.
type Correlator struct {
	store  store.Store
	client wiki.Client
	site   wiki.Site
	roster *roster.Loader
	locker *wiki.PageLocker
	dial   feed.Dialer
	logger *slog.Logger
	opts   Options
}

// New wires a Correlator from its collaborators.
func New(st store.Store, client wiki.Client, site wiki.Site, loader *roster.Loader, locker *wiki.PageLocker, dial feed.Dialer, logger *slog.Logger, opts Options) *Correlator {
	return &Correlator{
		store:  st,
		client: client,
		site:   site,
		roster: loader,
		locker: locker,
		dial:   dial,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Run consumes the feed until ctx is done, reconnecting after every
// connection loss with a fixed delay. There is no retry limit.
func (c *Correlator) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("event feed failed, reconnecting",
				"error", err, "delay", c.opts.ReconnectDelay)
		}
		if err := sleep(ctx, c.opts.ReconnectDelay); err != nil {
			return err
		}
	}
}

// consume runs one feed connection to exhaustion. Per-event failures are
// logged and skipped; only connection-level errors surface.
func (c *Correlator) consume(ctx context.Context) error {
	f, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect event feed: %w", err)
	}
	defer f.Close()

	c.logger.Info("event feed connected")
	for {
		event, err := f.Next(ctx)
		if err != nil {
			return err
		}
		if err := c.HandleEvent(ctx, event); err != nil {
			c.logger.Warn("could not process event",
				"user", event.User, "title", event.Title, "error", err)
		}
	}
}

// HandleEvent applies the transition rules to one feed event.
//
// Events are processed sequentially; two events for the same user must not
// be handled concurrently or the edit-seen update could be lost.
func (c *Correlator) HandleEvent(ctx context.Context, event feed.Event) error {
	if event.Kind == feed.KindLog {
		return nil
	}
	if event.Namespace == wiki.NamespaceSpecial {
		// Virtual namespace; these entries never carry a page edit.
		return nil
	}
	record, err := c.store.GetGreeted(ctx, event.User)
	if err != nil {
		return fmt.Errorf("look up greeted record: %w", err)
	}
	if record == nil {
		// Never greeted, already transitioned, or expired.
		return nil
	}
	if event.Timestamp.Before(record.CreatedAt) {
		c.logger.Warn("ignoring event predating the greeting",
			"user", event.User, "title", event.Title,
			"event_time", event.Timestamp, "greeted_at", record.CreatedAt)
		return nil
	}

	if event.Namespace == wiki.NamespaceUserTalk && event.Title == c.site.TalkPage(event.User) {
		// Terminal transition. Deleting the record first makes the
		// notification fire at most once.
		if err := c.store.RemoveGreeted(ctx, event.User); err != nil {
			return fmt.Errorf("remove greeted record: %w", err)
		}
		c.logger.Info("greeted user edited own talk page",
			"user", event.User, "greeter", record.Greeter)
		c.notifyOwnTalk(ctx, record.Greeter, event.User)
		return nil
	}

	if !record.NormalEditSeen {
		// Flag first so a duplicate event cannot notify twice.
		if err := c.store.SetGreetedEditSeen(ctx, event.User); err != nil {
			return fmt.Errorf("mark edit seen: %w", err)
		}
		c.logger.Info("greeted user made first edit",
			"user", event.User, "title", event.Title, "greeter", record.Greeter)
		c.notifyFirstEdit(ctx, record.Greeter, event.User, event.Title)
	}
	return nil
}

// notifyOwnTalk appends the own-talk notice to the greeter's log and, when
// the greeter opted in, additionally posts to the greeter's talk page.
// Delivery failures are logged; the state transition already happened.
func (c *Correlator) notifyOwnTalk(ctx context.Context, greeter, user string) {
	if err := c.appendToLog(ctx, greeter, c.site.OwnTalkNotice(user)); err != nil {
		c.logger.Warn("could not append own-talk notice",
			"greeter", greeter, "user", user, "error", err)
	}
	if !c.optedIn(ctx, greeter) {
		return
	}
	if err := c.postTalkNotice(ctx, greeter, user); err != nil {
		c.logger.Warn("could not post talk-page notice",
			"greeter", greeter, "user", user, "error", err)
	}
}

// notifyFirstEdit appends the first-edit notice to the greeter's log. This
// notification is log-only.
func (c *Correlator) notifyFirstEdit(ctx context.Context, greeter, user, title string) {
	if err := c.appendToLog(ctx, greeter, c.site.FirstEditNotice(user, title)); err != nil {
		c.logger.Warn("could not append first-edit notice",
			"greeter", greeter, "user", user, "error", err)
	}
}

// optedIn reports whether the greeter asked for talk-page notifications. A
// roster load failure downgrades to log-only delivery.
func (c *Correlator) optedIn(ctx context.Context, greeter string) bool {
	snapshot, err := c.roster.Load(ctx)
	if err != nil {
		c.logger.Warn("could not load notification preferences",
			"greeter", greeter, "error", err)
		return false
	}
	return snapshot.OptIn[greeter]
}

func (c *Correlator) appendToLog(ctx context.Context, greeter, entry string) error {
	title := c.site.GreetingLogPage(greeter)
	if err := c.locker.Acquire(title, true); err != nil {
		return err
	}
	defer c.locker.Release(title)

	text := ""
	exists, err := c.client.Exists(ctx, title)
	if err != nil {
		return err
	}
	if exists {
		if text, err = c.client.Get(ctx, title); err != nil {
			return err
		}
	}
	date := c.opts.Now().In(c.opts.Location)
	return c.client.Save(ctx, title, c.site.AppendLogEntries(text, greeter, date, []string{entry}), c.site.NotifySummary)
}

func (c *Correlator) postTalkNotice(ctx context.Context, greeter, user string) error {
	title := c.site.TalkPage(greeter)
	if err := c.locker.Acquire(title, true); err != nil {
		return err
	}
	defer c.locker.Release(title)

	text := ""
	exists, err := c.client.Exists(ctx, title)
	if err != nil {
		return err
	}
	if exists {
		if text, err = c.client.Get(ctx, title); err != nil {
			return err
		}
		text += "\n\n"
	}
	return c.client.Save(ctx, title, text+c.site.TalkNotice(user), c.site.NotifySummary)
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
