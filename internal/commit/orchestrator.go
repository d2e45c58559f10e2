// =============================================================================
// Payment Import - Commit Orchestrator
// =============================================================================
//
// This module sends validated rows to the loan service, one row at a time or
// as a sequential batch, and settles each row's commit status.
//
// ROW STATE MACHINE:
//   unsaved -> saving -> saved
//                     -> duplicatePending   (service already holds the document)
//                     -> unsaved            (any other failure, reason kept)
//   unsaved | duplicatePending -> routedToReview  (terminal)
//
// BATCH COMMIT:
//   1. Re-check the service; abort when offline
//   2. Dry-run every candidate row; reject the whole batch when any row still
//      needs a loan selection, before any payment is sent
//   3. Commit rows strictly in file order, one request at a time
//   4. Stop before the next row when the caller or the session is cancelled
//
// =============================================================================

package commit

import (
	"context"
	"errors"
	"time"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/health"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/session"
	"github.com/ginjaninja78/payment-import/internal/types"
)

// PaymentCommitter persists one payment on the loan service.
type PaymentCommitter interface {
	CreatePayment(ctx context.Context, req types.PaymentRequest) (types.PaymentReceipt, error)
}

// StatusChecker probes the loan service on demand. *health.Monitor
// implements it.
type StatusChecker interface {
	Check(ctx context.Context) health.Status
}

// ReviewSink accepts rows handed off for manual reconciliation.
type ReviewSink interface {
	Enqueue(ctx context.Context, item types.ReviewItem) (types.ReviewItem, error)
}

// Outcome is how a single commit attempt ended.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeDuplicate Outcome = "duplicatePending"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

// RowOutcome reports one commit attempt.
type RowOutcome struct {
	RowIndex  int     `json:"rowIndex"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	PaymentID int64   `json:"paymentId,omitempty"`

	// Completed is set on the save that left no valid row to commit.
	Completed bool `json:"completed,omitempty"`
}

// BatchResult is the tally of a batch commit.
type BatchResult struct {
	SessionID  string       `json:"sessionId"`
	Attempted  int          `json:"attempted"`
	Saved      int          `json:"saved"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	Skipped    []int        `json:"skipped,omitempty"`
	Rows       []RowOutcome `json:"rows"`
	Cancelled  bool         `json:"cancelled,omitempty"`
	Completed  bool         `json:"completed"`
	AutoClose  bool         `json:"autoClose"`
	Duration   string       `json:"duration"`
}

// Failures counts every attempted row that was not saved.
func (b BatchResult) Failures() int { return b.Duplicates + b.Failed }

// Progress is called after every batch row settles.
type Progress func(done, total int, out RowOutcome)

// Orchestrator drives commits for any number of sessions.
type Orchestrator struct {
	committer PaymentCommitter
	status    StatusChecker
	review    ReviewSink

	// OnComplete fires when a save leaves the session with no valid row to
	// commit.
	OnComplete func(sess *session.Session)

	log *logger.Logger
}

// New creates an Orchestrator. status may be nil, in which case the service
// is assumed reachable; review may be nil when routing is not offered.
func New(committer PaymentCommitter, status StatusChecker, review ReviewSink) *Orchestrator {
	return &Orchestrator{
		committer: committer,
		status:    status,
		review:    review,
		log:       logger.Named("commit"),
	}
}

// =============================================================================
// SINGLE ROW
// =============================================================================

// CommitRow commits one row.
//
// PARAMETERS:
//   - ctx: bounds the health probe and the payment request
//   - sess: the session that owns the row
//   - rowIndex: 1-based row index
//
// RETURNS:
//   - RowOutcome: how the attempt ended
//   - error: nil on save; otherwise a coded error (precondition, offline,
//     DuplicateOnCommit or CommitFailed) that the row also carries as its reason
func (o *Orchestrator) CommitRow(ctx context.Context, sess *session.Session, rowIndex int) (RowOutcome, error) {
	if err := o.ensureOnline(ctx, sess); err != nil {
		return RowOutcome{RowIndex: rowIndex, Outcome: OutcomeRejected, Reason: err.Error()}, err
	}
	sess.ResolvePending(ctx)

	req, err := sess.BeginCommit(rowIndex)
	if err != nil {
		return RowOutcome{RowIndex: rowIndex, Outcome: OutcomeRejected, Reason: err.Error()}, err
	}
	return o.send(ctx, sess, rowIndex, req)
}

// =============================================================================
// BATCH
// =============================================================================

// CommitAll commits every unsaved valid row of the session in file order.
//
// PARAMETERS:
//   - ctx: cancelling it stops the batch before the next row
//   - sess: the session to commit; closing it also stops the batch
//   - progress: optional per-row callback
//
// RETURNS:
//   - BatchResult: the per-row outcomes and the tally
//   - error: ServiceUnreachable, LoanAmbiguous naming every blocking row, or
//     Conflict for a closed session. Per-row failures are not errors.
func (o *Orchestrator) CommitAll(ctx context.Context, sess *session.Session, progress Progress) (BatchResult, error) {
	result := BatchResult{SessionID: sess.ID()}
	log := o.log.With().Str("session", sess.ID()).Logger()

	if err := o.ensureOnline(ctx, sess); err != nil {
		log.Warn().Err(err).Msg("batch commit aborted")
		return result, err
	}
	// identities changed by edits are looked up before any row is checked
	sess.ResolvePending(ctx)

	// -------------------------------------------------------------------------
	// Dry run: no request leaves while any row still needs a loan selection
	// -------------------------------------------------------------------------
	rows := sess.BatchRows()
	var ambiguous []int
	for _, idx := range rows {
		if err := sess.CheckCommittable(idx); perr.IsCode(err, perr.ErrorCodeLoanAmbiguous) {
			ambiguous = append(ambiguous, idx)
		}
	}
	if len(ambiguous) > 0 {
		log.Warn().Ints("rows", ambiguous).Msg("batch rejected: loan selection required")
		return result, perr.LoanAmbiguous(ambiguous...)
	}

	// -------------------------------------------------------------------------
	// Sequential commit
	// -------------------------------------------------------------------------
	start := time.Now()
	log.Info().Int("rows", len(rows)).Msg("batch commit started")

	for i, idx := range rows {
		if err := stopped(ctx, sess); err != nil {
			result.Cancelled = true
			result.Skipped = append(result.Skipped, rows[i:]...)
			log.Warn().Err(err).Int("skipped", len(rows)-i).Msg("batch commit stopped")
			break
		}

		var out RowOutcome
		req, err := sess.BeginCommit(idx)
		if err != nil {
			out = RowOutcome{RowIndex: idx, Outcome: OutcomeRejected, Reason: err.Error()}
		} else {
			out, _ = o.send(ctx, sess, idx, req)
		}

		result.Attempted++
		switch out.Outcome {
		case OutcomeSaved:
			result.Saved++
		case OutcomeDuplicate:
			result.Duplicates++
		default:
			result.Failed++
		}
		result.Rows = append(result.Rows, out)
		if progress != nil {
			progress(i+1, len(rows), out)
		}
	}

	result.Completed = sess.Completed()
	result.AutoClose = !result.Cancelled && result.Failures() == 0 && result.Saved > 0
	result.Duration = time.Since(start).Round(time.Millisecond).String()

	log.Info().
		Int("saved", result.Saved).
		Int("failed", result.Failures()).
		Int("skipped", len(result.Skipped)).
		Bool("auto_close", result.AutoClose).
		Msgf("%d saved, %d failed", result.Saved, result.Failures())
	return result, nil
}

// =============================================================================
// REVIEW HAND-OFF
// =============================================================================

// RouteToReview hands a row to the manual reconciliation queue and removes it
// from the committable set. The row is queued first; if queueing fails the
// row is left untouched.
func (o *Orchestrator) RouteToReview(ctx context.Context, sess *session.Session, rowIndex int, reason string) (types.ReviewItem, error) {
	if o.review == nil {
		return types.ReviewItem{}, perr.New(perr.ErrorCodeConflict, "review hand-off is not configured")
	}
	if reason == "" {
		return types.ReviewItem{}, perr.WithField(perr.InvalidArgf("a reason is required to route row %d", rowIndex), "reason")
	}

	row, err := sess.Row(rowIndex)
	if err != nil {
		return types.ReviewItem{}, err
	}
	if sess.Closed() {
		return types.ReviewItem{}, perr.Conflictf("session %s is closed", sess.ID())
	}
	if row.Status != types.StatusUnsaved && row.Status != types.StatusDuplicatePending {
		return types.ReviewItem{}, perr.WithRow(perr.Conflictf("row %d is %s and cannot be routed", rowIndex, row.Status), rowIndex)
	}

	item, err := o.review.Enqueue(ctx, types.ReviewItem{
		SessionID:      sess.ID(),
		SourceFile:     sess.SourceFile(),
		RowIndex:       row.RowIndex,
		Identity:       row.Identity,
		PaymentDate:    row.PaymentDate,
		Amount:         row.Amount,
		DocumentNumber: row.DocumentNumber,
		LoanID:         row.LoanID,
		Reconciled:     row.Reconciled,
		Reason:         reason,
	})
	if err != nil {
		return types.ReviewItem{}, err
	}

	if _, err := sess.MarkRouted(rowIndex, reason); err != nil {
		o.log.Error().Err(err).Str("session", sess.ID()).Int("row", rowIndex).Str("review_id", item.ID).
			Msg("row queued for review but could not be marked routed")
		return item, err
	}
	o.log.Info().Str("session", sess.ID()).Int("row", rowIndex).Str("review_id", item.ID).Msg("row routed to review")
	return item, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (o *Orchestrator) ensureOnline(ctx context.Context, sess *session.Session) error {
	if sess.Closed() {
		return perr.Conflictf("session %s is closed", sess.ID())
	}
	if o.status == nil {
		return nil
	}
	st := o.status.Check(ctx)
	online := st.State == health.StateOnline
	sess.SetServiceStatus(online)
	if !online {
		return perr.ServiceUnreachable(errors.New(st.LastError))
	}
	return nil
}

// send issues the payment for a row already in saving and settles it.
func (o *Orchestrator) send(ctx context.Context, sess *session.Session, rowIndex int, req types.PaymentRequest) (RowOutcome, error) {
	log := o.log.With().Str("session", sess.ID()).Int("row", rowIndex).Str("document", req.DocumentNumber).Logger()

	receipt, err := o.committer.CreatePayment(ctx, req)
	if err == nil {
		out := RowOutcome{RowIndex: rowIndex, Outcome: OutcomeSaved, PaymentID: receipt.ID}
		if sess.MarkSaved(rowIndex, receipt) {
			out.Completed = true
			log.Info().Msg("no valid rows left to commit")
			if o.OnComplete != nil {
				o.OnComplete(sess)
			}
		}
		return out, nil
	}

	reason := err.Error()
	if perr.IsCode(err, perr.ErrorCodeDuplicateOnCommit) {
		sess.MarkDuplicate(rowIndex, reason)
		log.Warn().Str("reason", reason).Msg("document already registered")
		return RowOutcome{RowIndex: rowIndex, Outcome: OutcomeDuplicate, Reason: reason}, perr.DuplicateOnCommit(rowIndex, err)
	}

	sess.MarkFailed(rowIndex, reason)
	log.Warn().Str("reason", reason).Msg("commit failed")
	return RowOutcome{RowIndex: rowIndex, Outcome: OutcomeFailed, Reason: reason}, perr.CommitFailed(rowIndex, err)
}

// stopped reports why a batch must not start its next row.
func stopped(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sess.Context().Err(); err != nil {
		return err
	}
	return nil
}
