package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/archive"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/notify"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/serviceutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/socrata"
	"github.com/NHIT-open/Citizen-Connect-ACS/pipeline"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the full pipeline: fetch, validate, archive and publish every source.",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()
		sources, cleanup := openSources(config)
		defer cleanup()

		runner := &pipeline.Runner{
			Sources: sources,
			Publisher: socrata.NewClient(socrata.ClientOptions{
				Domain:    config.Socrata.Domain,
				KeyId:     config.Socrata.KeyId,
				KeySecret: config.Socrata.KeySecret,
			}),
			DatasetId: config.Socrata.DatasetId,
		}
		if config.Archive.Enabled() {
			store, err := archive.NewStore(config.Archive)
			if err != nil {
				serviceutil.Fatal("failed to connect to archive", err)
			}
			runner.Archive = store
		}

		mailer := notify.NewMailer(config.Notify)

		result, err := runner.Run(cmd.Context())
		if err != nil {
			reportFailure(config, mailer, err)
		}

		slog.Info(
			"pipeline run succeeded",
			"sources", result.Sources,
			"rows", result.Rows,
			"revisions", result.RevisionUrls,
			"took", result.Took,
		)
		if config.Notify.Enabled() {
			err := mailer.RunSucceeded(notify.RunReport{
				Sources:      result.Sources,
				Rows:         result.Rows,
				RevisionUrls: result.RevisionUrls,
				Took:         result.Took,
			})
			if err != nil {
				slog.Error("failed to send run report", "err", err)
			}
		}
	},
}

// reportFailure logs the classified failure, mails it if notification
// is configured, and exits nonzero.
func reportFailure(config Config, mailer notify.Mailer, err error) {
	slog.Error(
		"pipeline run failed",
		"kind", pipeline.Classify(err),
		"err", err,
	)

	var runErr *pipeline.RunError
	if config.Notify.Enabled() && errors.As(err, &runErr) {
		mailErr := mailer.RunFailed(runErr.Source, runErr.Stage, runErr.Err)
		if mailErr != nil {
			slog.Error("failed to send failure report", "err", mailErr)
		}
	}
	os.Exit(1)
}
