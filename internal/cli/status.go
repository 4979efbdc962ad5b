package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/pipeline"
)

var (
	statusWatch  bool
	statusFailed bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration progress from the state file",
	Long: `Status summarizes the state file: how many pages are pending,
exported, converted, uploaded, or failed.

Examples:
  confmove status
  confmove status --failed
  confmove status --watch`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh continuously while a migration runs")
	statusCmd.Flags().BoolVar(&statusFailed, "failed", false, "list failed pages with their errors")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusWatch {
		return watchState()
	}

	st, err := loadState()
	if err != nil {
		return err
	}
	if st.Len() == 0 {
		fmt.Println("No migration state found. Run export first.")
		return nil
	}

	printSummary(os.Stdout, pipeline.Summary{Total: st.Len(), Counts: st.Summary()})

	if statusFailed {
		for _, rec := range st.ByStatus(models.StatusFailed) {
			fmt.Printf("  %s %s (%s): %s\n",
				defaultTheme.errorStyle().Render("✗"), rec.Title, rec.ID, rec.Error)
		}
	}
	return nil
}

// statusOrder fixes the display order of the summary rows.
var statusOrder = []models.Status{
	models.StatusPending,
	models.StatusExported,
	models.StatusConverted,
	models.StatusUploaded,
	models.StatusFailed,
}

// printSummary renders the per-status counts as a small aligned table.
func printSummary(w io.Writer, sum pipeline.Summary) {
	header := defaultTheme.statusStyle().Bold(true).Render(fmt.Sprintf("Pages: %d", sum.Total))
	fmt.Fprintln(w, header)

	for _, st := range statusOrder {
		n := sum.Counts[st]
		if n == 0 {
			continue
		}
		label := fmt.Sprintf("%-10s", st)
		switch st {
		case models.StatusUploaded:
			label = defaultTheme.completedStyle().Render(label)
		case models.StatusFailed:
			label = defaultTheme.errorStyle().Render(label)
		default:
			label = defaultTheme.statusStyle().Render(label)
		}
		fmt.Fprintf(w, "  %s %d\n", label, n)
	}

	if sum.RunID != "" {
		fmt.Fprintln(w, defaultTheme.hintStyle().Render("run "+sum.RunID))
	}
}

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}
