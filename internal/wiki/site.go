package wiki

// Site names the pages, prefixes and templates of the wiki the bot runs on.
// Loaded from an optional YAML file; DefaultSite matches the German Wikipedia
// greeting project the bot was written for.
//
// Templates use indexed fmt verbs (%[1]s) where the same value appears more
// than once.
type Site struct {
	// RosterPage is the project page carrying the greeter list.
	RosterPage string `yaml:"roster_page"`

	// RosterSection is the heading of the section listing greeters.
	RosterSection string `yaml:"roster_section"`

	// NotifySection is the heading of the sub-list of greeters who opted in
	// to talk-page notifications.
	NotifySection string `yaml:"notify_section"`

	// SignaturePattern matches one signed roster line; capture group 1 is
	// the signature without its timestamp.
	SignaturePattern string `yaml:"signature_pattern"`

	// Title prefixes for resolving links and building page names.
	UserPrefix          string `yaml:"user_prefix"`
	UserTalkPrefix      string `yaml:"user_talk_prefix"`
	ContributionsPrefix string `yaml:"contributions_prefix"`

	// GreetingLogPrefix + greeter name is that greeter's log page.
	GreetingLogPrefix string `yaml:"greeting_log_prefix"`

	// LogHeaderTemplate seeds an empty log page. %s = greeter.
	LogHeaderTemplate string `yaml:"log_header_template"`

	// WelcomeTemplate is the welcome message written to a new user's talk
	// page. %s = greeter signature.
	WelcomeTemplate string `yaml:"welcome_template"`

	// LogEntryTemplate is one greeting-log line. %[1]s = greeted user.
	LogEntryTemplate string `yaml:"log_entry_template"`

	// OwnTalkNoticeTemplate is the log line recording that a greeted user
	// edited their own talk page. %[1]s = user.
	OwnTalkNoticeTemplate string `yaml:"own_talk_notice_template"`

	// FirstEditNoticeTemplate is the log line recording a greeted user's
	// first edit elsewhere. %[1]s = user, %[2]s = page title.
	FirstEditNoticeTemplate string `yaml:"first_edit_notice_template"`

	// TalkNoticeTemplate is posted on an opted-in greeter's talk page when
	// their greeted user edits the own talk page. %[1]s = user.
	TalkNoticeTemplate string `yaml:"talk_notice_template"`

	// Edit summaries.
	WelcomeSummary string `yaml:"welcome_summary"`
	LogSummary     string `yaml:"log_summary"`
	NotifySummary  string `yaml:"notify_summary"`

	// ReviewRight is the capability a greeter must hold.
	ReviewRight string `yaml:"review_right"`
}

// DefaultSite returns the German Wikipedia greeting-project configuration.
func DefaultSite() Site {
	return Site{
		RosterPage:              "Wikipedia:WikiProjekt Begrüßung von Neulingen",
		RosterSection:           "Begrüßungsteam",
		NotifySection:           "Benachrichtigung bei Diskussionsseitenbearbeitung",
		SignaturePattern:        `^#\s*(.+) [0-9]{2}:[0-9]{2}, [123]?[0-9]\. (?:Jan\.|Feb\.|Mär\.|Apr\.|Mai|Jun\.|Jul\.|Aug\.|Sep\.|Okt\.|Nov\.|Dez\.) 2[0-9]{3} \((?:CES?T|MES?Z)\)`,
		UserPrefix:              "Benutzer:",
		UserTalkPrefix:          "Benutzer Diskussion:",
		ContributionsPrefix:     "Spezial:Beiträge/",
		GreetingLogPrefix:       "Wikipedia:WikiProjekt Begrüßung von Neulingen/Begrüßungslogbuch/",
		LogHeaderTemplate:       "{{Wikipedia:WikiProjekt Begrüßung von Neulingen/Begrüßungslogbuch/Kopfzeile|%s}}",
		WelcomeTemplate:         "{{subst:Wikipedia:WikiProjekt Begrüßung von Neulingen/Begrüßung}}\n%s",
		LogEntryTemplate:        "* [[Benutzer Diskussion:%[1]s|%[1]s]]",
		OwnTalkNoticeTemplate:   "* [[Benutzer Diskussion:%[1]s|%[1]s]] hat die eigene Diskussionsseite bearbeitet.",
		FirstEditNoticeTemplate: "* [[Benutzer Diskussion:%[1]s|%[1]s]] hat die erste Bearbeitung gemacht: [[%[2]s]].",
		TalkNoticeTemplate:      "== Begrüßter Benutzer aktiv ==\n[[Benutzer Diskussion:%[1]s|%[1]s]] hat die eigene Diskussionsseite bearbeitet. --~~~~",
		WelcomeSummary:          "Bot: Willkommen bei Wikipedia!",
		LogSummary:              "Bot: Logeinträge für neue Begrüßungen hinzugefügt.",
		NotifySummary:           "Bot: Benachrichtigung über aktiven begrüßten Benutzer.",
		ReviewRight:             "review",
	}
}

// TalkPage returns the personal talk page title for user.
func (s Site) TalkPage(user string) string {
	return s.UserTalkPrefix + user
}

// GreetingLogPage returns the greeting-log page title for greeter.
func (s Site) GreetingLogPage(greeter string) string {
	return s.GreetingLogPrefix + greeter
}
