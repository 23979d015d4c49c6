package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/pluriview/internal/engine"
	"github.com/bryanchriswhite/pluriview/internal/layout"
	"github.com/spf13/cobra"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Inspect or reset the saved canvas layout",
}

var layoutShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved layout",
	Long: `Print the previews stored in the layout file. The file is only read;
sources are not matched against open windows.`,
	Example: `  # Show previews as a table (default)
  pluriview layout show

  # Show the layout document as JSON
  pluriview layout show --format json`,
	RunE: runLayoutShow,
}

var layoutPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show layout file path",
	RunE:  runLayoutPath,
}

var layoutResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Move the layout aside so the next start is empty",
	RunE:  runLayoutReset,
}

var layoutFormat string

func init() {
	rootCmd.AddCommand(layoutCmd)
	layoutCmd.AddCommand(layoutShowCmd)
	layoutCmd.AddCommand(layoutPathCmd)
	layoutCmd.AddCommand(layoutResetCmd)

	layoutShowCmd.Flags().StringVarP(&layoutFormat, "format", "f", "table", "output format (table or json)")
}

func openLayout() (*layout.Store, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return layout.NewStore(cfg.LayoutPath, engine.OptionsFromConfig(cfg).Limits), nil
}

func runLayoutShow(cmd *cobra.Command, args []string) error {
	store, err := openLayout()
	if err != nil {
		return err
	}
	snap, err := store.Peek()
	if err != nil {
		return fmt.Errorf("failed to read layout %s: %w", store.Path(), err)
	}

	switch layoutFormat {
	case "json":
		data, err := layout.Encode(snap)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "table":
		selected := make(map[string]bool, len(snap.Selection))
		for _, id := range snap.Selection {
			selected[id] = true
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tTITLE\tRECT\tFPS\tZ\tSELECTED")
		for _, e := range snap.Entities {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f,%.0f %.0fx%.0f\t%d\t%d\t%t\n",
				e.ID, e.Source, e.Hint.Title, e.Rect.X, e.Rect.Y, e.Rect.W, e.Rect.H, e.FPS, e.ZOrder, selected[e.ID])
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nview: offset (%.1f, %.1f) zoom %.2f\n", snap.Offset.X, snap.Offset.Y, snap.Zoom)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", layoutFormat)
	}
}

func runLayoutPath(cmd *cobra.Command, args []string) error {
	store, err := openLayout()
	if err != nil {
		return err
	}
	fmt.Println(store.Path())
	return nil
}

func runLayoutReset(cmd *cobra.Command, args []string) error {
	store, err := openLayout()
	if err != nil {
		return err
	}
	backup, err := store.Reset()
	if err != nil {
		return fmt.Errorf("failed to reset layout: %w", err)
	}
	if backup == "" {
		fmt.Println("No layout saved")
		return nil
	}
	fmt.Printf("Layout moved to %s\n", backup)
	return nil
}
