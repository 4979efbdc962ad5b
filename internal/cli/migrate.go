package cli

import (
	"github.com/spf13/cobra"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/pipeline"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run export, convert, and upload in one pass",
	Long: `Migrate runs all three phases back to back. A page that fails one
phase is recorded and skipped by later phases; the rest of the set
keeps moving. Re-running resumes from the state file.

Examples:
  confmove migrate --space DOCS
  confmove migrate --space DOCS --dry-run
  confmove migrate --all-spaces --exclude-attachments`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	addScopeFlags(migrateCmd)
	addConvertFlags(migrateCmd)
	migrateCmd.Flags().StringVar(&targetParent, "target-parent", pipeline.DefaultTargetParent, "remote directory pages are placed under")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, err := newSource(ctx)
	if err != nil {
		return err
	}
	sink, err := newSink(ctx)
	if err != nil {
		return err
	}
	st, err := loadState()
	if err != nil {
		return err
	}

	runner := pipeline.New(st, newConverter(), source, sink, runnerOptions(), logger)
	if err := runner.Migrate(ctx); err != nil {
		return err
	}
	return finish(runner, models.StatusUploaded)
}
