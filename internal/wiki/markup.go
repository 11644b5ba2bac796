package wiki

import (
	"fmt"
	"strings"
	"time"
)

// logDateLayout renders the date heading of a greeting-log section.
const logDateLayout = "2. January 2006"

// WelcomeText renders the welcome message signed by the given greeter
// signature.
func (s Site) WelcomeText(signature string) string {
	return fmt.Sprintf(s.WelcomeTemplate, signature)
}

// LogHeader renders the first line of an empty greeting-log page.
func (s Site) LogHeader(greeter string) string {
	return fmt.Sprintf(s.LogHeaderTemplate, greeter)
}

// LogDateSection renders the heading under which a day's entries collect.
func LogDateSection(t time.Time) string {
	return fmt.Sprintf("=== %s ===", t.Format(logDateLayout))
}

// LogEntry renders one greeting-log line for a greeted user.
func (s Site) LogEntry(user string) string {
	return fmt.Sprintf(s.LogEntryTemplate, user)
}

// OwnTalkNotice renders the log line for a greeted user's own-talk-page edit.
func (s Site) OwnTalkNotice(user string) string {
	return fmt.Sprintf(s.OwnTalkNoticeTemplate, user)
}

// FirstEditNotice renders the log line for a greeted user's first edit
// elsewhere.
func (s Site) FirstEditNotice(user, title string) string {
	return fmt.Sprintf(s.FirstEditNoticeTemplate, user, title)
}

// TalkNotice renders the message posted to an opted-in greeter's talk page.
func (s Site) TalkNotice(user string) string {
	return fmt.Sprintf(s.TalkNoticeTemplate, user)
}

// AppendLogEntries returns the log page text with entries appended under the
// date's section. An empty page is seeded with the greeter's header line; the
// date section is added once and reused for later appends on the same day.
func (s Site) AppendLogEntries(text, greeter string, date time.Time, entries []string) string {
	if text == "" {
		text = s.LogHeader(greeter)
	}
	section := LogDateSection(date)
	if !strings.Contains(text, section) {
		text += "\n\n" + section
	}
	for _, entry := range entries {
		text += "\n" + entry
	}
	return text
}
