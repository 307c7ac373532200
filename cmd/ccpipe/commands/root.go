package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/census"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/restyutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/socrata"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"

	"github.com/spf13/cobra"
)

var configPath *string
var verbose *bool

var rootCmd = &cobra.Command{
	Use:   "ccpipe",
	Short: "ccpipe collects American Community Survey statistics and publishes them to the Citizen Connect dataset.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
		if !*verbose {
			return
		}
		census.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput("debug_http/census"))
		socrata.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput("debug_http/socrata"))
		gazetteer.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput("debug_http/gazetteer"))
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "Path to the pipeline config file.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enables debug logging and raw http dumps under debug_http/.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
