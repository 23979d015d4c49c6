package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/bryanchriswhite/pluriview/internal/window"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List capturable windows",
	Long: `List the top-level windows pluriview can capture.

The id column is the source id accepted by the API when adding or
relinking a preview.`,
	Example: `  # List windows in table format (default)
  pluriview windows

  # List windows in JSON format
  pluriview windows --format json`,
	RunE: runWindows,
}

var windowsFormat string

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
}

func runWindows(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	x11, err := window.NewX11Backend()
	if err != nil {
		return fmt.Errorf("failed to connect to X11: %w", err)
	}
	defer x11.Close()

	backend := selectProvider(cfg.Window.Backend, os.Getenv("XDG_SESSION_TYPE"), x11, func() (kwinProvider, error) {
		return window.NewKWinBackend()
	})
	if kwin, ok := backend.(*window.KWinBackend); ok {
		defer kwin.Close()
	}

	windows, err := backend.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Class != windows[j].Class {
			return windows[i].Class < windows[j].Class
		}
		return windows[i].Title < windows[j].Title
	})

	switch windowsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tCLASS\tTITLE")
		for _, win := range windows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", uint64(win.ID), win.ID, win.Class, win.Title)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}
