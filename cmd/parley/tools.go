package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"parley/internal/catalog"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List known tools",
	Long: `List the tools the client can name in transcripts and run with /tool.
Builtins are always present; *.yaml manifests in the tools directory are
layered on top and may override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}

		cat := catalog.Default()
		manifestDir := cfg.Tools.ManifestDir
		if manifestDir == "" {
			manifestDir = dd.ToolsDir()
		}
		loaded, err := cat.LoadDir(manifestDir)
		if err != nil {
			return err
		}

		tools := cat.Tools()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTITLE\tCATEGORY\tDESCRIPTION")
		for _, t := range tools {
			category := t.Category
			if category == "" {
				category = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Title, category, firstLine(t.Description, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d tools (%d from manifests in %s)\n", len(tools), loaded, manifestDir)
		return nil
	},
}
