package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/serviceutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
	"github.com/NHIT-open/Citizen-Connect-ACS/pipeline"

	"github.com/spf13/cobra"
)

var exportSource *string
var exportOut *string

func init() {
	exportSource = exportCmd.Flags().String("source", "", "Only export the named source.")
	exportOut = exportCmd.Flags().String("out", "citizen_connect.csv", "Path to write the CSV to.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--source <name>] [--out <path/to/rows.csv>]",
	Short: "Fetches and validates sources, writing the canonical CSV to disk. Nothing is published.",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()
		sources, cleanup := openSources(config)
		defer cleanup()

		// every source shares the canonical columns, so their rows
		// concatenate into one record set the same way upserts land in
		// the hosted dataset
		combined := tabular.NewTable(pipeline.Columns()...)
		matched := 0
		for _, source := range sources {
			if *exportSource != "" && source.Name() != *exportSource {
				continue
			}
			table, err := fetchValidated(cmd.Context(), source)
			if err != nil {
				serviceutil.Fatal("export failed", err)
			}
			combined.Rows = append(combined.Rows, table.Rows...)
			matched++
		}
		if matched == 0 {
			serviceutil.Fatal("export failed", fmt.Errorf("no source named %q", *exportSource))
		}

		csv, err := combined.CSV()
		if err != nil {
			serviceutil.Fatal("failed to serialize csv", err)
		}
		err = os.WriteFile(*exportOut, csv, 0644)
		if err != nil {
			serviceutil.Fatal("failed to write csv", err)
		}
		slog.Info("wrote csv", "path", *exportOut, "rows", len(combined.Rows))
	},
}
