// =============================================================================
// Payment Import - Import Command
// =============================================================================
//
// This file defines the 'import' command, which runs one workbook through the
// pipeline from the terminal.
//
// COMMAND USAGE:
//   payimport import --file march.xlsx [flags]
//
// FLAGS:
//   --file             : Workbook to import (.xlsx or .xls)
//   --commit           : Commit every valid row after the preview
//   --route-ambiguous  : Send rows with several active loans to manual review
//   --dry-run          : Preview only; nothing is committed, routed or written
//
// PROCESSING PIPELINE:
//   1. Probe the loan service
//   2. Ingest the file (validate rows, link loans)
//   3. Print the per-row preview
//   4. Optionally route ambiguous rows to review
//   5. Optionally batch-commit valid rows
//   6. Write the JSON report; archive the input when the batch auto-closed
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ginjaninja78/payment-import/internal/commit"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/health"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/ginjaninja78/payment-import/internal/validation"
	"github.com/ginjaninja78/payment-import/pkg/utils"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	importFile     string
	doCommit       bool
	routeAmbiguous bool
	dryRun         bool
)

// ambiguousReason is recorded on rows routed by --route-ambiguous.
const ambiguousReason = "several active loans for this identity; select one manually"

// =============================================================================
// IMPORT COMMAND DEFINITION
// =============================================================================

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Preview and optionally commit a payment workbook",
	Long: `The import command reads a payment workbook, validates every row and links
rows to the holder's active loan. It prints one line per row with its
status and any validation errors.

With --commit, every valid row is sent to the loan service in file order.
The batch is refused up front while any row still needs a loan selection;
use --route-ambiguous to hand those rows to manual review first.

On a batch with no failures:
  - The input file is moved to the input archive
A JSON report of the run is always written to the output directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Workbook to import (.xlsx or .xls)")
	importCmd.Flags().BoolVar(&doCommit, "commit", false, "Commit every valid row after the preview")
	importCmd.Flags().BoolVar(&routeAmbiguous, "route-ambiguous", false, "Route rows with several active loans to manual review")
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview only; commit, route and write nothing")
	_ = importCmd.MarkFlagRequired("file")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runImport(out io.Writer) error {
	startTime := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(mainConfig, routeAmbiguous && !dryRun)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	fm := utils.NewFileManager(mainConfig.OutputDir, mainConfig.InputArchiveDir)
	if !dryRun {
		if err := fm.EnsureDirectories(); err != nil {
			return err
		}
	}

	// =========================================================================
	// STEP 1: PROBE THE SERVICE
	// =========================================================================

	fmt.Fprintln(out, "=== Payment Import ===")
	st := a.monitor.Check(ctx)
	fmt.Fprintf(out, "Loan service: %s (%dms)\n", st.State, st.LatencyMS)

	// =========================================================================
	// STEP 2: INGEST
	// =========================================================================

	res, err := a.pipeline.OpenFile(ctx, importFile)
	if err != nil {
		return err
	}
	sess := res.Session
	defer sess.Close()
	sess.SetServiceStatus(st.State == health.StateOnline)

	fmt.Fprintf(out, "File:         %s (%d rows, %d valid)\n", sess.SourceFile(), res.Stats.RowsRead, res.Stats.ValidRows)
	if res.Layout.Sniffed {
		fmt.Fprintln(out, "Layout:       five-column legacy template")
	}

	// =========================================================================
	// STEP 3: PREVIEW
	// =========================================================================

	fmt.Fprintln(out)
	printRows(out, sess.Rows())

	report := utils.ImportReport{
		SourceFile: importFile,
		SessionID:  sess.ID(),
		StartedAt:  startTime.UTC(),
		DryRun:     dryRun,
	}

	if dryRun {
		c := sess.Counts()
		fmt.Fprintf(out, "\nDry run: %d of %d rows would be committed.\n", c.ValidCount, c.Total)
		return nil
	}

	// =========================================================================
	// STEP 4: ROUTE AMBIGUOUS ROWS
	// =========================================================================

	if routeAmbiguous {
		for _, r := range sess.Rows() {
			if r.CandidateCount <= 1 || r.LoanID != nil || r.Status.Terminal() || r.Status == types.StatusSaving {
				continue
			}
			item, err := a.orch.RouteToReview(ctx, sess, r.RowIndex, ambiguousReason)
			if err != nil {
				fmt.Fprintf(out, "  row %d: could not route to review: %v\n", r.RowIndex, err)
				continue
			}
			report.Review = append(report.Review, item)
		}
		if n := len(report.Review); n > 0 {
			fmt.Fprintf(out, "\nRouted %d row(s) to manual review.\n", n)
		}
	}

	// =========================================================================
	// STEP 5: COMMIT
	// =========================================================================

	var batchErr error
	if doCommit {
		fmt.Fprintln(out, "\nCommitting...")
		batch, err := a.orch.CommitAll(ctx, sess, func(done, total int, o commit.RowOutcome) {
			line := fmt.Sprintf("  [%d/%d] row %d: %s", done, total, o.RowIndex, o.Outcome)
			if o.Reason != "" {
				line += " (" + o.Reason + ")"
			}
			fmt.Fprintln(out, line)
		})
		if err != nil {
			batchErr = err
			report.Error = err.Error()
			fmt.Fprintf(out, "Batch refused: %v\n", err)
			if perr.IsCode(err, perr.ErrorCodeLoanAmbiguous) && !routeAmbiguous {
				fmt.Fprintln(out, "Hint: select loans in the operator UI or re-run with --route-ambiguous.")
			}
		} else {
			report.Batch = &batch
			fmt.Fprintf(out, "\n%d saved, %d failed", batch.Saved, batch.Failures())
			if len(batch.Skipped) > 0 {
				fmt.Fprintf(out, ", %d not attempted", len(batch.Skipped))
			}
			fmt.Fprintln(out)
		}
	}

	// =========================================================================
	// STEP 6: REPORT AND ARCHIVE
	// =========================================================================

	if report.Batch != nil && report.Batch.AutoClose {
		archived, err := fm.ArchiveInputFile(importFile)
		if err != nil {
			fmt.Fprintf(out, "Warning: failed to archive input: %v\n", err)
		} else {
			report.ArchivePath = archived
			fmt.Fprintf(out, "Input archived to %s\n", archived)
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Counts = sess.Counts()
	report.Rows = sess.Rows()
	path, err := utils.WriteReport(report, fm.OutputDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", path)
	fmt.Fprintf(out, "Time elapsed: %s\n", time.Since(startTime).Round(time.Millisecond))

	return batchErr
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// printRows writes the preview table.
func printRows(out io.Writer, rows []types.ImportRow) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tIDENTITY\tDATE\tAMOUNT\tDOCUMENT\tLOAN\tSTATUS\tNOTES")
	for i := range rows {
		r := &rows[i]
		loan := "-"
		switch {
		case r.LoanID != nil:
			loan = strconv.FormatInt(*r.LoanID, 10) + " (" + string(r.LoanSource) + ")"
		case r.CandidateCount > 1:
			loan = fmt.Sprintf("select 1 of %d", r.CandidateCount)
		case r.LoanIDRaw != "":
			loan = r.LoanIDRaw + " (invalid)"
		}

		notes := validation.FormatErrors(r)
		if r.Warning != "" {
			if notes != "" {
				notes += "; "
			}
			notes += r.Warning
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RowIndex, r.Identity, r.PaymentDate, r.Amount, r.DocumentNumber, loan, r.Status, notes)
	}
	_ = tw.Flush()
}
