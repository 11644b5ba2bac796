package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wikigreet/greeterbot/internal/config"
	"github.com/wikigreet/greeterbot/internal/store"
)

// listedMember is one index-set entry in JSON output.
type listedMember struct {
	User    string    `json:"user"`
	AddedAt time.Time `json:"added_at"`
}

// listResult is the JSON payload of the list command.
type listResult struct {
	Greeted []listedMember `json:"greeted,omitempty"`
	Control []listedMember `json:"control,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [greeted|control|all]",
		Short: "List greeted and control-group users",
		Long: `List the members of the durable index sets with the time each user
was recorded. The sets outlive the per-user records, which expire after the
retention window.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := "all"
			if len(args) == 1 {
				set = args[0]
			}
			return runList(rootOpts, cmd, set)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command, set string) error {
	if set != "greeted" && set != "control" && set != "all" {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown set %q: must be greeted, control or all", set))
	}
	newLogger(opts.Verbose)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var result listResult
	if set == "greeted" || set == "all" {
		members, err := st.ListGreeted(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list greeted users", err)
		}
		result.Greeted = toListed(members)
	}
	if set == "control" || set == "all" {
		members, err := st.ListControlGroup(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list control group", err)
		}
		result.Control = toListed(members)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.SuccessJSON(result)
	}

	out := cmd.OutOrStdout()
	if set == "greeted" || set == "all" {
		printSet(out, color.New(color.FgHiGreen).Sprint("Greeted users"), result.Greeted)
	}
	if set == "control" || set == "all" {
		printSet(out, color.New(color.FgHiYellow).Sprint("Control group"), result.Control)
	}
	return nil
}

func toListed(members []store.Member) []listedMember {
	listed := make([]listedMember, 0, len(members))
	for _, m := range members {
		listed = append(listed, listedMember{User: m.User, AddedAt: m.AddedAt})
	}
	return listed
}

func printSet(w io.Writer, header string, members []listedMember) {
	fmt.Fprintf(w, "%s (%d)\n", header, len(members))
	for _, m := range members {
		fmt.Fprintf(w, "  %s\t%s\n", m.User, m.AddedAt.Format(time.RFC3339))
	}
}
