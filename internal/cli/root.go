// Package cli provides the command-line interface for confmove.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/confmove/confmove/internal/config"
	"github.com/confmove/confmove/internal/confluence"
	"github.com/confmove/confmove/internal/converter"
	"github.com/confmove/confmove/internal/metrics"
	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/nextcloud"
	"github.com/confmove/confmove/internal/pipeline"
	"github.com/confmove/confmove/internal/state"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	cfgFile     string
	stateFile   string
	logFileFlag string
	debug       bool
	dryRun      bool

	// Scope and behavior flags shared by the phase commands
	spaceKey           string
	pageIDs            []string
	allSpaces          bool
	force              bool
	excludeImages      bool
	excludeAttachments bool
	targetParent       string

	// Global config and logger, set up in PersistentPreRunE
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "confmove",
	Short: "Migrate Confluence spaces to Nextcloud Collectives",
	Long: `Confmove exports pages from Confluence Cloud, converts them to
Markdown, and uploads the result into a Nextcloud Collective, keeping
the page hierarchy intact.

The three phases (export, convert, upload) run separately or together
via migrate. Progress is tracked in a state file, so an interrupted
run resumes where it left off.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return configErr(err)
		}
		if logFileFlag != "" {
			cfg.LogFile = logFileFlag
		}
		if debug {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel, cfg.Secrets())
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// errConfig marks configuration problems so Execute can map them to
// the config exit code.
var errConfig = errors.New("configuration error")

func configErr(err error) error {
	return fmt.Errorf("%w: %w", errConfig, err)
}

// exitCodeError carries a specific process exit code out of a command.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// Execute runs the root command and maps errors to process exit codes.
// Interrupts cancel the run between pages; progress made so far stays
// in the state file.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return pipeline.ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var ec *exitCodeError
	switch {
	case errors.As(err, &ec):
		return ec.code
	case errors.Is(err, confluence.ErrAuth), errors.Is(err, nextcloud.ErrAuth):
		return pipeline.ExitAuth
	case errors.Is(err, errConfig),
		errors.Is(err, confluence.ErrSpaceNotFound),
		errors.Is(err, nextcloud.ErrCollectiveNotFound):
		return pipeline.ExitConfig
	default:
		return pipeline.ExitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default confmove.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", state.DefaultFile, "migration state file")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "simulate without writing files, uploading, or saving state")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
}

// addScopeFlags registers the page-selection flags on a phase command.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&spaceKey, "space", "s", "", "Confluence space key")
	cmd.Flags().StringSliceVar(&pageIDs, "pages", nil, "explicit page IDs")
	cmd.Flags().BoolVar(&allSpaces, "all-spaces", false, "migrate every accessible space")
	cmd.Flags().BoolVar(&force, "force", false, "re-run pages that already completed this phase")
}

func addConvertFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&excludeImages, "exclude-images", false, "drop inline images")
	cmd.Flags().BoolVar(&excludeAttachments, "exclude-attachments", false, "drop all attachments")
}

func runnerOptions() pipeline.Options {
	return pipeline.Options{
		SpaceKey:     spaceKey,
		PageIDs:      pageIDs,
		AllSpaces:    allSpaces,
		ExportDir:    cfg.ExportDir,
		ConvertDir:   cfg.ConvertDir,
		TargetParent: targetParent,
		DryRun:       dryRun,
		Force:        force,
	}
}

// newSource validates the Confluence settings and verifies credentials
// before any page work starts.
func newSource(ctx context.Context) (*confluence.Client, error) {
	if err := cfg.RequireConfluence(); err != nil {
		return nil, configErr(err)
	}
	client := confluence.New(cfg.ConfluenceBaseURL, cfg.ConfluenceUsername, cfg.ConfluenceAPIToken, logger)
	name, err := client.VerifyAuth(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("authenticated with Confluence", "user", name)
	return client, nil
}

// newSink validates the Nextcloud settings and checks the collective
// is reachable. Skipped in dry-run, where nothing is uploaded.
func newSink(ctx context.Context) (*nextcloud.Client, error) {
	if err := cfg.RequireNextcloud(); err != nil {
		return nil, configErr(err)
	}
	client := nextcloud.New(cfg.NextcloudURL, cfg.NextcloudUsername, cfg.NextcloudPassword, cfg.NextcloudCollective, logger)
	if dryRun {
		return client, nil
	}
	if err := client.VerifyConnection(ctx); err != nil {
		return nil, err
	}
	logger.Info("connected to Nextcloud collective", "collective", cfg.NextcloudCollective)
	return client, nil
}

func newConverter() *converter.Converter {
	return converter.New(converter.Options{
		ExcludeImages:      excludeImages,
		ExcludeAttachments: excludeAttachments,
		BaseURL:            cfg.ConfluenceBaseURL,
		LinkStyle:          converter.LinkRelative,
	}, logger)
}

// finish prints the per-status summary and turns incomplete runs into
// the partial or failure exit code.
func finish(r *pipeline.Runner, target models.Status) error {
	sum := r.Summarize()
	printSummary(os.Stdout, sum)
	logStats(r.Stats())

	code := pipeline.ExitCode(sum, target)
	if code == pipeline.ExitSuccess {
		return nil
	}
	failed := sum.Counts[models.StatusFailed]
	return &exitCodeError{
		code: code,
		msg:  fmt.Sprintf("%d of %d pages did not reach %s (%d failed)", sum.Total-reachedCount(sum, target), sum.Total, target, failed),
	}
}

func logStats(snap metrics.Snapshot) {
	named := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"export", snap.Export},
		{"convert", snap.Convert},
		{"upload", snap.Upload},
		{"download", snap.Download},
	}
	for _, n := range named {
		if n.op == nil {
			continue
		}
		args := []any{"op", n.name, "count", n.op.Count, "avg_ms", n.op.AvgTimeMs, "max_ms", n.op.MaxTimeMs}
		if n.op.TotalBytes != nil {
			args = append(args, "bytes", *n.op.TotalBytes)
		}
		logger.Debug("operation timing", args...)
	}
}

func reachedCount(sum pipeline.Summary, target models.Status) int {
	n := 0
	for status, c := range sum.Counts {
		if status.AtLeast(target) {
			n += c
		}
	}
	return n
}

func statePath() string {
	if cfg.StateFile != "" && !rootCmd.PersistentFlags().Changed("state-file") {
		return cfg.StateFile
	}
	return stateFile
}

func loadState() (*state.State, error) {
	st, err := state.Load(statePath())
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return st, nil
}
