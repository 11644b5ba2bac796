package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wikigreet/greeterbot/internal/config"
	"github.com/wikigreet/greeterbot/internal/store"
	"github.com/wikigreet/greeterbot/internal/wiki"
)

// contributionsLimit caps the per-user contributions query.
const contributionsLimit = 500

// GroupStats summarizes one index set for the stats command.
type GroupStats struct {
	Total            int `json:"total"`
	Blocked          int `json:"blocked"`
	WithEdits        int `json:"with_edits"`
	WithArticleEdits int `json:"with_article_edits"`
}

// statsResult is the JSON payload of the stats command.
type statsResult struct {
	Greeted        GroupStats `json:"greeted"`
	Control        GroupStats `json:"control"`
	GreetedPercent float64    `json:"greeted_percent"`
	ControlPercent float64    `json:"control_percent"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report activity of greeted and control-group users",
		Long: `Compare the two experiment groups: how many members of each set
were blocked since, how many edited at all, and how many edited articles.
Edits are only counted from the time the user entered the set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state store", err)
	}
	defer st.Close()

	client, err := newWikiClient(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid wiki bridge address", err)
	}

	ctx := cmd.Context()
	greeted, err := st.ListGreeted(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list greeted users", err)
	}
	controls, err := st.ListControlGroup(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list control group", err)
	}

	result := statsResult{
		Greeted: groupStats(ctx, client, logger, greeted),
		Control: groupStats(ctx, client, logger, controls),
	}
	if total := len(greeted) + len(controls); total > 0 {
		result.GreetedPercent = float64(len(greeted)) / float64(total) * 100
		result.ControlPercent = float64(len(controls)) / float64(total) * 100
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.SuccessJSON(result)
	}

	out := cmd.OutOrStdout()
	printGroup(out, color.New(color.FgHiGreen).Sprint("Greeted users"), result.Greeted)
	printGroup(out, color.New(color.FgHiYellow).Sprint("Control group"), result.Control)
	fmt.Fprintf(out, "Split: %.2f%% greeted, %.2f%% control\n", result.GreetedPercent, result.ControlPercent)
	return nil
}

// groupStats aggregates one index set. Per-user lookup failures are logged
// and the user only counts toward the total.
func groupStats(ctx context.Context, client wiki.Client, logger *slog.Logger, members []store.Member) GroupStats {
	stats := GroupStats{Total: len(members)}
	for _, m := range members {
		blocked, err := client.IsBlocked(ctx, m.User)
		if err != nil {
			logger.Warn("could not check block status", "user", m.User, "error", err)
			continue
		}
		if blocked {
			stats.Blocked++
		}
		contribs, err := client.Contributions(ctx, m.User, contributionsLimit)
		if err != nil {
			logger.Warn("could not load contributions", "user", m.User, "error", err)
			continue
		}
		edits, articleEdits := 0, 0
		for _, c := range contribs {
			if c.Timestamp.Before(m.AddedAt) {
				continue
			}
			edits++
			if c.Namespace == wiki.NamespaceArticle {
				articleEdits++
			}
		}
		if edits > 0 {
			stats.WithEdits++
		}
		if articleEdits > 0 {
			stats.WithArticleEdits++
		}
	}
	return stats
}

func printGroup(w io.Writer, header string, stats GroupStats) {
	fmt.Fprintf(w, "%s: total %d, blocked %d, with edits %d, with article edits %d\n",
		header, stats.Total, stats.Blocked, stats.WithEdits, stats.WithArticleEdits)
}
