package commands

import (
	"fmt"
	"os"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/serviceutil"

	"github.com/spf13/cobra"
)

var previewSource *string
var previewLimit *int

func init() {
	previewSource = previewCmd.Flags().String("source", "", "Only preview the named source.")
	previewLimit = previewCmd.Flags().Int("limit", 20, "Maximum rows to render per source.")
	rootCmd.AddCommand(previewCmd)
}

var previewCmd = &cobra.Command{
	Use:   "preview [--source <name>] [--limit <n>]",
	Short: "Fetches and validates sources, rendering rows to the terminal. Nothing is published.",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()
		sources, cleanup := openSources(config)
		defer cleanup()

		matched := 0
		for _, source := range sources {
			if *previewSource != "" && source.Name() != *previewSource {
				continue
			}
			table, err := fetchValidated(cmd.Context(), source)
			if err != nil {
				serviceutil.Fatal("preview failed", err)
			}
			fmt.Printf("%s: %d rows\n", source.Name(), len(table.Rows))
			table.Render(os.Stdout, *previewLimit)
			matched++
		}
		if matched == 0 {
			serviceutil.Fatal("preview failed", fmt.Errorf("no source named %q", *previewSource))
		}
	},
}
