package cli

import (
	"github.com/spf13/cobra"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/pipeline"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload converted pages to the Nextcloud collective",
	Long: `Upload pushes the converted Markdown files and their attachments into
the configured Nextcloud Collective over WebDAV, recreating the folder
hierarchy under the target parent directory.

Examples:
  confmove upload --space DOCS
  confmove upload --space DOCS --target-parent "Imported/Confluence"
  confmove upload --space DOCS --force`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func init() {
	addScopeFlags(uploadCmd)
	uploadCmd.Flags().StringVar(&targetParent, "target-parent", pipeline.DefaultTargetParent, "remote directory pages are placed under")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sink, err := newSink(ctx)
	if err != nil {
		return err
	}
	st, err := loadState()
	if err != nil {
		return err
	}

	runner := pipeline.New(st, newConverter(), nil, sink, runnerOptions(), logger)
	if err := runner.Upload(ctx); err != nil {
		return err
	}
	return finish(runner, models.StatusUploaded)
}
