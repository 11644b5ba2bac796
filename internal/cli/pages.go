package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wikigreet/greeterbot/internal/bucket"
	"github.com/wikigreet/greeterbot/internal/config"
	"github.com/wikigreet/greeterbot/internal/roster"
	"github.com/wikigreet/greeterbot/internal/scheduler"
	"github.com/wikigreet/greeterbot/internal/wiki"
)

// NewPagesCommand creates the pages command.
func NewPagesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pages",
		Short: "Create missing per-greeter bookkeeping pages",
		Long: `Create the greeting-log page for every greeter named on the roster
that does not have one yet. Existing pages are left untouched.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(rootOpts, cmd)
		},
	}
}

func runPages(opts *RootOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	site, err := config.LoadSite(opts.Site)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid site description", err)
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
	loader, err := roster.NewLoader(client, site, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid site description", err)
	}
	splitter := bucket.NewSplitter(cfg.BucketSecret, bucket.DefaultModulus, cfg.ControlPermille)
	batch := scheduler.New(st, client, site, loader, splitter, wiki.NewPageLocker(), logger, scheduler.Options{})

	created, err := batch.EnsureGreeterPages(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create greeter pages", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.SuccessJSON(struct {
			Created int `json:"created"`
		}{Created: created})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %d greeting log page(s).\n", created)
	return nil
}
