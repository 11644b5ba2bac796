package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wikigreet/greeterbot/internal/config"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the greeted and control-group index sets",
		Long: `Delete both administrative index sets. The per-user records keep
their TTL and are not touched, so the running service is unaffected; only
the reporting lists start over.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to delete index sets without --yes")
			}
			return runReset(rootOpts, cmd)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of both index sets")

	return cmd
}

func runReset(opts *RootOptions, cmd *cobra.Command) error {
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

	if err := st.ClearIndexes(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "failed to clear index sets", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.SuccessJSON(struct {
			Cleared bool `json:"cleared"`
		}{Cleared: true})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Index sets cleared.")
	return nil
}
