package session

import (
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/normalize"
	"github.com/ginjaninja78/payment-import/internal/types"
)

// Commit status transitions. Only the commit orchestrator calls these.
//
//	unsaved | duplicatePending --BeginCommit--> saving
//	saving --MarkSaved--> saved
//	saving --MarkDuplicate--> duplicatePending
//	saving --MarkFailed--> unsaved
//	unsaved | duplicatePending --MarkRouted--> routedToReview

// CheckCommittable re-validates a row and reports the first precondition it
// violates, without changing its state.
func (s *Session) CheckCommittable(rowIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.checkLocked(rowIndex)
	return err
}

// BeginCommit moves a row to saving and returns its payment payload.
func (s *Session) BeginCommit(rowIndex int) (types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.checkLocked(rowIndex)
	if err != nil {
		return types.PaymentRequest{}, err
	}

	iso, _ := normalize.DateISO(r.PaymentDate)
	amount, _ := normalize.AmountDecimal(r.Amount)
	req := types.PaymentRequest{
		Identity:       normalize.Hyphenated(r.Identity),
		PaymentDate:    iso,
		Amount:         amount,
		DocumentNumber: r.DocumentNumber,
		Reconciled:     r.Reconciled,
	}
	if r.LoanID != nil {
		id := *r.LoanID
		req.LoanID = &id
	}

	r.Status = types.StatusSaving
	r.StatusReason = ""
	return req, nil
}

// MarkSaved settles a saving row as saved. It reports whether no valid row
// is left to commit.
func (s *Session) MarkSaved(rowIndex int, receipt types.PaymentReceipt) (completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byIndex[rowIndex]
	if !ok || r.Status != types.StatusSaving {
		return false
	}
	r.Status = types.StatusSaved
	r.StatusReason = ""
	s.log.Info().Int("row", rowIndex).Int64("payment_id", receipt.ID).Msg("payment saved")
	return s.completedLocked()
}

// MarkDuplicate records that the service already holds the row's document.
func (s *Session) MarkDuplicate(rowIndex int, reason string) {
	s.settle(rowIndex, types.StatusDuplicatePending, reason)
}

// MarkFailed returns a saving row to unsaved with the failure reason.
func (s *Session) MarkFailed(rowIndex int, reason string) {
	s.settle(rowIndex, types.StatusUnsaved, reason)
}

func (s *Session) settle(rowIndex int, st types.CommitStatus, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byIndex[rowIndex]
	if !ok || r.Status != types.StatusSaving {
		return
	}
	r.Status = st
	r.StatusReason = reason
}

// MarkRouted removes a row from the committable set for manual review. The
// row leaves the document index, so rows that duplicated it are
// re-validated.
func (s *Session) MarkRouted(rowIndex int, reason string) (types.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.editableRowLocked(rowIndex)
	if err != nil {
		return types.ImportRow{}, err
	}
	peers := s.duplicatesOf(r.DocumentNumber, rowIndex)
	s.unindexDoc(r.DocumentNumber, rowIndex)
	r.Status = types.StatusRoutedToReview
	r.StatusReason = reason
	s.revalidate(peers)
	return r.Clone(), nil
}

// BatchRows returns, in file order, the rows a batch commit would attempt:
// unsaved rows whose fresh verdicts have no errors.
func (s *Session) BatchRows() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, r := range s.rows {
		if r.Status != types.StatusUnsaved {
			continue
		}
		s.validate(r)
		if !r.HasErrors {
			out = append(out, r.RowIndex)
		}
	}
	return out
}

// Completed reports whether at least one row was saved and no valid unsaved
// or duplicate-pending row remains.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedLocked()
}

func (s *Session) completedLocked() bool {
	saved := false
	for _, r := range s.rows {
		switch {
		case r.Status == types.StatusSaved:
			saved = true
		case r.Status == types.StatusUnsaved && !r.HasErrors:
			return false
		case r.Status == types.StatusSaving, r.Status == types.StatusDuplicatePending:
			return false
		}
	}
	return saved
}

// checkLocked enforces the commit preconditions in order: session open, row
// editable, no field errors (intra-file duplicates reported distinctly),
// loans of the identity known, loan selected when ambiguous.
func (s *Session) checkLocked(rowIndex int) (*types.ImportRow, error) {
	r, err := s.editableRowLocked(rowIndex)
	if err != nil {
		return nil, err
	}
	s.validate(r)

	if r.HasErrors {
		if fv := r.Validation[types.FieldDocumentNumber]; !fv.Valid && len(s.duplicatesOf(r.DocumentNumber, rowIndex)) > 0 {
			return nil, perr.DuplicateInFile(rowIndex, r.DocumentNumber)
		}
		for _, f := range types.RequiredFields {
			if fv := r.Validation[f]; !fv.Valid {
				return nil, perr.FieldInvalid(rowIndex, string(f), fv.Message)
			}
		}
	}
	if r.LoanID == nil && s.unresolvedLocked(r) {
		return nil, perr.LoanUnresolved(rowIndex, r.Identity)
	}
	if r.CandidateCount > 1 && r.LoanID == nil {
		return nil, perr.LoanAmbiguous(rowIndex)
	}
	return r, nil
}
