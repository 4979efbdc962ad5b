package cli

import (
	"github.com/spf13/cobra"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/pipeline"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert exported pages to Markdown",
	Long: `Convert renders every exported page to Markdown under the convert
directory, resolving the page hierarchy into folders and placing
attachment files next to their page.

Runs entirely offline on the export directory.

Examples:
  confmove convert --space DOCS
  confmove convert --space DOCS --exclude-images
  confmove convert --space DOCS --force`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	addScopeFlags(convertCmd)
	addConvertFlags(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	st, err := loadState()
	if err != nil {
		return err
	}

	runner := pipeline.New(st, newConverter(), nil, nil, runnerOptions(), logger)
	if err := runner.Convert(cmd.Context()); err != nil {
		return err
	}
	return finish(runner, models.StatusConverted)
}
