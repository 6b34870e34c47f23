package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reconCmd)
	reconCmd.AddCommand(reconRunCmd)
	reconCmd.AddCommand(reconStatusCmd)
	reconCmd.AddCommand(reconLogsCmd)
	reconCmd.AddCommand(reconSummaryCmd)

	reconRunCmd.Flags().StringP("source", "s", "", "External source name (required)")
	reconRunCmd.Flags().StringP("date", "d", "", "Settlement date YYYY-MM-DD (default: yesterday)")
	reconStatusCmd.Flags().StringP("source", "s", "", "Filter by source")
	reconStatusCmd.Flags().Int("limit", 10, "Maximum jobs to show")
	reconLogsCmd.Flags().Bool("unmatched", false, "Show only unmatched records")
}

var reconCmd = &cobra.Command{
	Use:   "recon",
	Short: "Run and inspect reconciliation jobs",
}

// ─── recon run ──────────────────────────────────────────────────────────────

var reconRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile one source for one settlement date",
	Long: `Fetch the external feed for the given source and date, match it
against internal SETTLED events, and persist the per-record results. The
job runs synchronously and prints its summary.`,
	RunE: runReconRun,
}

func runReconRun(cmd *cobra.Command, args []string) error {
	sourceName, _ := cmd.Flags().GetString("source")
	dateStr, _ := cmd.Flags().GetString("date")
	if sourceName == "" {
		return fmt.Errorf("source required: clearbook recon run -s <source> [-d YYYY-MM-DD]")
	}

	date := time.Now().UTC().AddDate(0, 0, -1)
	if dateStr != "" {
		var err error
		date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD", dateStr)
		}
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	job, runErr := c.runner.RunSync(ctx, sourceName, date)
	if job == nil {
		return runErr
	}

	fmt.Fprintf(os.Stdout, "Job %s  source=%s  date=%s  status=%s\n",
		job.ID, job.Source, job.JobDate.Format("2006-01-02"), job.Status)
	if job.ErrorMessage != "" {
		fmt.Fprintf(os.Stdout, "  Error: %s\n", job.ErrorMessage)
		return runErr
	}
	fmt.Fprintf(os.Stdout, "  Records: %d total, %d matched, %d unmatched\n",
		job.MatchedCount+job.UnmatchedCount, job.MatchedCount, job.UnmatchedCount)

	if summary, err := c.db.SummaryByJob(ctx, job.ID); err == nil && summary != nil {
		fmt.Fprintf(os.Stdout, "  Match rate: %.2f%%  (high confidence %d, low %d)\n",
			summary.MatchRate*100, summary.HighConfidenceCount, summary.LowConfidenceCount)
	}
	return nil
}

// ─── recon status ───────────────────────────────────────────────────────────

var reconStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent reconciliation jobs",
	RunE:  runReconStatus,
}

func runReconStatus(cmd *cobra.Command, args []string) error {
	sourceName, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	jobs, err := c.db.ListJobs(context.Background(), sourceName, limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stdout, "No jobs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tDATE\tSTATUS\tMATCHED\tUNMATCHED\tTOTAL")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			j.ID, j.Source, j.JobDate.Format("2006-01-02"), j.Status,
			j.MatchedCount, j.UnmatchedCount, j.MatchedCount+j.UnmatchedCount)
	}
	return w.Flush()
}

// ─── recon logs ─────────────────────────────────────────────────────────────

var reconLogsCmd = &cobra.Command{
	Use:   "logs JOB_ID",
	Short: "Show per-record match results for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconLogs,
}

func runReconLogs(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}
	unmatchedOnly, _ := cmd.Flags().GetBool("unmatched")

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	var matched *bool
	if unmatchedOnly {
		f := false
		matched = &f
	}
	logs, err := c.db.LogsByJob(context.Background(), jobID, matched)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Fprintln(os.Stdout, "No log rows.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXTERNAL_TXN\tMATCHED\tSCORE\tLEDGER_TXN\tREASON")
	for _, l := range logs {
		ledgerTxn := "-"
		if l.LedgerTxnID != nil {
			ledgerTxn = l.LedgerTxnID.String()
		}
		fmt.Fprintf(w, "%s\t%t\t%.4f\t%s\t%s\n",
			l.ExternalTxnID, l.Matched, l.MatchScore, ledgerTxn, l.Reason)
	}
	return w.Flush()
}

// ─── recon summary ──────────────────────────────────────────────────────────

var reconSummaryCmd = &cobra.Command{
	Use:   "summary JOB_ID",
	Short: "Show the aggregate summary for a completed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconSummary,
}

func runReconSummary(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	summary, err := c.db.SummaryByJob(context.Background(), jobID)
	if err != nil {
		return err
	}
	if summary == nil {
		fmt.Fprintln(os.Stdout, "No summary (job not completed).")
		return nil
	}

	fmt.Fprintf(os.Stdout, "Job %s\n", summary.JobID)
	fmt.Fprintf(os.Stdout, "  External records: %d\n", summary.TotalExternalTxns)
	fmt.Fprintf(os.Stdout, "  Internal events:  %d\n", summary.TotalLedgerTxns)
	fmt.Fprintf(os.Stdout, "  Matched:          %d\n", summary.TotalExternalTxns-summary.UnmatchedCount)
	fmt.Fprintf(os.Stdout, "  Unmatched:        %d\n", summary.UnmatchedCount)
	fmt.Fprintf(os.Stdout, "  Match rate:       %.2f%%\n", summary.MatchRate*100)
	fmt.Fprintf(os.Stdout, "  High confidence:  %d\n", summary.HighConfidenceCount)
	fmt.Fprintf(os.Stdout, "  Low confidence:   %d\n", summary.LowConfidenceCount)
	if summary.Notes != "" {
		fmt.Fprintf(os.Stdout, "  Notes: %s\n", summary.Notes)
	}
	return nil
}
