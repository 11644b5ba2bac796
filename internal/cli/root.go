package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wikigreet/greeterbot/internal/config"
	"github.com/wikigreet/greeterbot/internal/store"
	"github.com/wikigreet/greeterbot/internal/wiki"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Site    string // optional site description YAML
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the greeterbot CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "greeterbot",
		Short: "Greeterbot - welcomes new wiki users",
		Long: `Greeterbot assigns volunteer greeters to newly registered users,
welcomes each new user once, and notifies the assigned greeter the first
time that user edits. Users are split deterministically into a greeted and
a control group for outcome comparison.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Site, "site", "", "path to a site description YAML file")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPagesCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger configures process-wide logging based on the verbose flag.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openStore connects the state store named by the configuration.
func openStore(cfg config.Config) (store.Store, error) {
	return store.Open(cfg.StoreDSN, store.Options{
		Namespace: cfg.StoreSecret,
		Retention: cfg.Retention,
	})
}

// newWikiClient builds the bridge client for the wiki collaborator.
func newWikiClient(cfg config.Config) (*wiki.HTTPClient, error) {
	return wiki.NewHTTPClient(wiki.HTTPClientOptions{BaseURL: cfg.WikiURL})
}
