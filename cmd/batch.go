package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/autotagger/internal/batch"
	"github.com/lehigh-university-libraries/autotagger/internal/jobs"
	"github.com/lehigh-university-libraries/autotagger/internal/report"
)

func newBatchCmd() *cobra.Command {
	var (
		query      string
		pageSize   int
		reportPath string
		hardCancel bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Tag every image matching an Elvis query",
		Long: `Runs a batch recognition job in the foreground. Images matching the query
are processed page by page, newest first.

Ctrl+C cancels the job once the current page is done (or immediately with
--hard-cancel). A report of every processed asset can be written as
parquet, yaml or json.`,
		Example: `  autotagger batch --query 'ancestors:"/Demo Zone"'

  # Smaller pages and a parquet report
  autotagger batch --query 'tags:""' --page-size 2 --report run.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("page-size") {
				pageSize = a.cfg.BatchSize
			}

			job := jobs.NewRegistry().Create(query)
			controller := batch.New(a.elvis, a.recognizer, batch.Options{
				PageSize:   pageSize,
				HardCancel: hardCancel,
			})

			// An interrupt cancels the job, not the requests it has in flight.
			stop := context.AfterFunc(cmd.Context(), func() {
				slog.Info("Interrupt received, cancelling batch job", "jobId", job.ID)
				job.Cancel()
			})
			defer stop()

			runErr := controller.Run(context.WithoutCancel(cmd.Context()), job)

			snap := job.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s: %d succeeded, %d failed\n",
				snap.ID, snap.State, snap.SuccessCount, snap.FailedCount)
			for _, e := range snap.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", e.AssetID, e.Error)
			}

			if reportPath != "" {
				if err := report.Write(reportPath, report.FromJob(job)); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Elvis query selecting the assets (required)")
	cmd.Flags().IntVar(&pageSize, "page-size", batch.DefaultPageSize, "Assets processed concurrently per page (defaults to IR_BATCH_SIZE)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a run report (.parquet, .yaml or .json)")
	cmd.Flags().BoolVar(&hardCancel, "hard-cancel", false, "Abort in-flight recognitions on interrupt")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}
