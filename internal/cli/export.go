package cli

import (
	"github.com/spf13/cobra"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/pipeline"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pages and attachments from Confluence",
	Long: `Export downloads every page in scope from Confluence, including
attachments and footer comments, and stores them under the export
directory for later conversion.

Examples:
  confmove export --space DOCS
  confmove export --pages 12345,67890
  confmove export --all-spaces
  confmove export --space DOCS --force`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	addScopeFlags(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, err := newSource(ctx)
	if err != nil {
		return err
	}
	st, err := loadState()
	if err != nil {
		return err
	}

	runner := pipeline.New(st, newConverter(), source, nil, runnerOptions(), logger)
	if err := runner.Export(ctx); err != nil {
		return err
	}
	return finish(runner, models.StatusExported)
}
