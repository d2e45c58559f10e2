// =============================================================================
// Payment Import - Import Session State
// =============================================================================
//
// This module owns the in-memory table of import rows. It is the single source
// of truth for the operator boundary and for the commit orchestrator.
//
// MUTATION RULES:
//   - Cell edits go through EditCell / SelectLoan. Every edit re-validates
//     the row and, when the document number changes, every peer row that
//     shares the old or the new value.
//   - Commit status moves only through the transition methods in commit.go.
//   - Loan candidates are merged once per identity by ApplyCandidates.
//     Identities introduced by an edit stay unresolved until ResolvePending
//     runs; unresolved rows without a loan cannot commit.
//   - Rows in "saving" and terminal rows reject edits.
//
// DOCUMENT INDEX:
//   document number -> set of row indexes, maintained incrementally on every
//   edit and routing so duplicate checks never rescan the table.
//
// =============================================================================

package session

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/normalize"
	"github.com/ginjaninja78/payment-import/internal/resolver"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/ginjaninja78/payment-import/internal/validation"
	"github.com/google/uuid"
)

// ServiceStatus is the last known reachability of the loan service.
type ServiceStatus string

const (
	ServiceUnknown ServiceStatus = "unknown"
	ServiceOnline  ServiceStatus = "online"
	ServiceOffline ServiceStatus = "offline"
)

// =============================================================================
// SESSION STRUCTURE
// =============================================================================

// Session is one import: the ordered rows of a file and everything derived
// from them. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id         string
	sourceFile string
	createdAt  time.Time

	validator *validation.Validator

	// rows keeps file order; byIndex points into the same rows.
	rows    []*types.ImportRow
	byIndex map[int]*types.ImportRow

	docIndex   map[string]map[int]struct{}
	candidates types.LoanCandidateSet

	// lookupFailed holds identities whose lookup failed, with the reason.
	lookupFailed map[string]string
	resolver     LoanResolver

	service ServiceStatus

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	log *logger.Logger
}

// New builds a session from normalized rows and validates every row against
// the complete document index.
//
// PARAMETERS:
//   - parent: The session context is derived from it; Close cancels it.
//   - sourceFile: The uploaded file name, kept for reports and review items.
//   - v: The validator applied on ingestion and on every edit.
//   - rows: Rows in file order with unique RowIndex values.
//
// RETURNS:
//   - The new session. Rows with duplicate RowIndex values are rejected.
func New(parent context.Context, sourceFile string, v *validation.Validator, rows []types.ImportRow) (*Session, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithSession(parent, id))

	s := &Session{
		id:         id,
		sourceFile: sourceFile,
		createdAt:  time.Now().UTC(),
		validator:  v,
		rows:       make([]*types.ImportRow, 0, len(rows)),
		byIndex:    make(map[int]*types.ImportRow, len(rows)),
		docIndex:   make(map[string]map[int]struct{}),
		candidates: make(types.LoanCandidateSet),
		service:    ServiceUnknown,
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.C(ctx),

		lookupFailed: make(map[string]string),
	}

	for i := range rows {
		r := rows[i].Clone()
		if _, dup := s.byIndex[r.RowIndex]; dup {
			cancel()
			return nil, perr.InvalidArgf("row index %d appears twice", r.RowIndex)
		}
		if r.Status == "" {
			r.Status = types.StatusUnsaved
		}
		if r.LoanSource == "" {
			r.LoanSource = types.LoanSourceNone
		}
		s.rows = append(s.rows, &r)
		s.byIndex[r.RowIndex] = &r
		s.indexDoc(r.DocumentNumber, r.RowIndex)
	}

	// Validate only after the index holds every row so the first of two
	// duplicates is flagged as well as the second.
	for _, r := range s.rows {
		s.validate(r)
	}

	s.log.Info().
		Str("file", sourceFile).
		Int("rows", len(s.rows)).
		Int("valid", s.countsLocked().ValidCount).
		Msg("import session created")
	return s, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the session UUID.
func (s *Session) ID() string { return s.id }

// SourceFile returns the uploaded file name.
func (s *Session) SourceFile() string { return s.sourceFile }

// CreatedAt returns the creation time in UTC.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Close cancels the session context. Pending batch work stops before its
// next row. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	s.log.Info().Msg("import session closed")
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetServiceStatus records the latest health probe result.
func (s *Session) SetServiceStatus(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.service = ServiceOnline
	} else {
		s.service = ServiceOffline
	}
}

// Row returns a copy of one row.
func (s *Session) Row(rowIndex int) (types.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.rowLocked(rowIndex)
	if err != nil {
		return types.ImportRow{}, err
	}
	return r.Clone(), nil
}

// Rows returns copies of every row in file order.
func (s *Session) Rows() []types.ImportRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ImportRow, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.Clone()
	}
	return out
}

// Candidates returns the active loans for a row's identity.
func (s *Session) Candidates(rowIndex int) ([]types.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.rowLocked(rowIndex)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.candidates[r.Identity]), nil
}

// Counts returns the session tallies.
func (s *Session) Counts() types.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countsLocked()
}

// Snapshot is a read-only view for the operator boundary.
type Snapshot struct {
	ID            string                 `json:"id"`
	SourceFile    string                 `json:"sourceFile"`
	CreatedAt     time.Time              `json:"createdAt"`
	ServiceStatus ServiceStatus          `json:"serviceStatus"`
	Counts        types.Counts           `json:"counts"`
	Candidates    types.LoanCandidateSet `json:"candidates"`
	Rows          []types.ImportRow      `json:"rows"`
	Closed        bool                   `json:"closed"`
}

// Snapshot copies the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.id,
		SourceFile:    s.sourceFile,
		CreatedAt:     s.createdAt,
		ServiceStatus: s.service,
		Counts:        s.countsLocked(),
		Candidates:    make(types.LoanCandidateSet, len(s.candidates)),
		Rows:          make([]types.ImportRow, len(s.rows)),
		Closed:        s.closed,
	}
	for k, v := range s.candidates {
		snap.Candidates[k] = slices.Clone(v)
	}
	for i, r := range s.rows {
		snap.Rows[i] = r.Clone()
	}
	return snap
}

// =============================================================================
// LOAN RESOLUTION
// =============================================================================

// LoanResolver fills in candidates for the identities a target has not seen.
// *resolver.Resolver implements it.
type LoanResolver interface {
	Resolve(ctx context.Context, t resolver.Target)
}

// SetResolver attaches the resolver used by ResolvePending. Once set, rows
// whose identity has not been looked up cannot commit without a loan.
func (s *Session) SetResolver(r LoanResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = r
	for _, row := range s.rows {
		if editable(row.Status) {
			s.classifyLocked(row)
		}
	}
}

// ResolvePending looks up the identities that have no candidates yet, such
// as those introduced by an identity edit or whose last lookup failed. It is
// a no-op without a resolver. The session lock is not held during remote
// calls.
func (s *Session) ResolvePending(ctx context.Context) {
	s.mu.Lock()
	r := s.resolver
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.Resolve(ctx, s)
}

// PendingIdentities returns the distinct identities of editable rows that
// have no candidate entry yet, including those whose last lookup failed.
// Implements resolver.Target.
func (s *Session) PendingIdentities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.rows {
		if r.Identity == "" || !editable(r.Status) {
			continue
		}
		if _, ok := s.candidates[r.Identity]; ok {
			continue
		}
		if _, ok := seen[r.Identity]; ok {
			continue
		}
		seen[r.Identity] = struct{}{}
		out = append(out, r.Identity)
	}
	return out
}

// ApplyCandidates merges looked-up candidates and classifies every affected
// row. A unique candidate is auto-assigned only to unsaved rows without a
// loan; explicit loan ids are never replaced. Implements resolver.Target.
func (s *Session) ApplyCandidates(set types.LoanCandidateSet, failures map[string]error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range set {
		s.candidates[k] = v
		delete(s.lookupFailed, k)
	}
	for k, err := range failures {
		s.lookupFailed[k] = err.Error()
	}
	for _, r := range s.rows {
		if !editable(r.Status) {
			continue
		}
		_, found := set[r.Identity]
		_, failed := failures[r.Identity]
		if found || failed {
			s.classifyLocked(r)
		}
	}
}

// lookedUpLocked reports whether a lookup for id was attempted.
func (s *Session) lookedUpLocked(id string) bool {
	if _, ok := s.candidates[id]; ok {
		return true
	}
	_, failed := s.lookupFailed[id]
	return failed
}

// unresolvedLocked reports whether r still waits for the loans of its
// identity.
func (s *Session) unresolvedLocked(r *types.ImportRow) bool {
	return s.resolver != nil && r.Identity != "" && !s.lookedUpLocked(r.Identity)
}

// classifyLocked applies the resolution policy for r's identity.
func (s *Session) classifyLocked(r *types.ImportRow) {
	loans, looked := s.candidates[r.Identity]
	if !looked {
		r.CandidateCount = 0
		switch reason, failed := s.lookupFailed[r.Identity]; {
		case failed:
			r.Warning = "loan lookup failed: " + reason
		case s.unresolvedLocked(r):
			r.Warning = "loan lookup pending"
		default:
			r.Warning = ""
		}
		return
	}
	r.CandidateCount = len(loans)
	r.Warning = ""

	switch resolver.Classify(len(loans)) {
	case resolver.None:
		if r.LoanSource == types.LoanSourceAuto {
			s.clearLoan(r)
		}
		r.Warning = "no active loan found for this identity"
	case resolver.Unique:
		if r.LoanID == nil && r.LoanIDRaw == "" && r.Status == types.StatusUnsaved {
			id := loans[0].ID
			r.LoanID = &id
			r.LoanSource = types.LoanSourceAuto
		}
	case resolver.Ambiguous:
		if r.LoanSource == types.LoanSourceAuto {
			s.clearLoan(r)
		}
	}
	s.validate(r)
}

// SelectLoan links a row to a loan on the operator's behalf. When the
// identity has candidates the loan must be one of them.
func (s *Session) SelectLoan(rowIndex int, loanID int64) (types.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.editableRowLocked(rowIndex)
	if err != nil {
		return types.ImportRow{}, err
	}
	if loanID <= 0 {
		return types.ImportRow{}, perr.WithRow(perr.InvalidArgf("loan id must be a positive integer"), rowIndex)
	}
	if loans := s.candidates[r.Identity]; len(loans) > 0 {
		if !slices.ContainsFunc(loans, func(l types.Loan) bool { return l.ID == loanID }) {
			return types.ImportRow{}, perr.WithRow(perr.InvalidArgf("loan %d is not an active loan of %s", loanID, r.Identity), rowIndex)
		}
	}
	r.LoanID = &loanID
	r.LoanIDRaw = ""
	r.LoanSource = types.LoanSourceOperator
	s.validate(r)
	return r.Clone(), nil
}

// =============================================================================
// CELL EDITS
// =============================================================================

// EditCell replaces one field of a row with operator input, normalizes it and
// re-validates the row and any peers affected by a document-number change.
func (s *Session) EditCell(rowIndex int, field types.Field, value string) (types.ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.editableRowLocked(rowIndex)
	if err != nil {
		return types.ImportRow{}, err
	}

	switch field {
	case types.FieldIdentity:
		r.Identity = normalize.Identity(value)
		if r.LoanSource == types.LoanSourceAuto {
			s.clearLoan(r)
		}
		s.classifyLocked(r)
	case types.FieldPaymentDate:
		r.PaymentDate = normalize.Date(value)
	case types.FieldAmount:
		r.Amount = normalize.Amount(value)
	case types.FieldDocumentNumber:
		s.moveDoc(r, normalize.DocumentNumber(value))
	case types.FieldLoanID:
		id, ok := normalize.LoanID(value)
		switch {
		case !ok:
			r.LoanID, r.LoanIDRaw, r.LoanSource = nil, strings.TrimSpace(value), types.LoanSourceOperator
		case id == nil:
			s.clearLoan(r)
		default:
			r.LoanID, r.LoanIDRaw, r.LoanSource = id, "", types.LoanSourceOperator
		}
	case types.FieldReconciled:
		r.Reconciled = normalize.Reconciled(value)
	default:
		return types.ImportRow{}, perr.WithField(perr.InvalidArgf("unknown field %q", field), string(field))
	}

	s.validate(r)
	s.log.Debug().Int("row", rowIndex).Str("field", string(field)).Bool("has_errors", r.HasErrors).Msg("cell edited")
	return r.Clone(), nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// editable reports whether a row in status st accepts edits and routing.
func editable(st types.CommitStatus) bool {
	return st == types.StatusUnsaved || st == types.StatusDuplicatePending
}

func (s *Session) rowLocked(rowIndex int) (*types.ImportRow, error) {
	r, ok := s.byIndex[rowIndex]
	if !ok {
		return nil, perr.NotFoundf("row %d not found", rowIndex)
	}
	return r, nil
}

func (s *Session) editableRowLocked(rowIndex int) (*types.ImportRow, error) {
	if s.closed {
		return nil, perr.Conflictf("session %s is closed", s.id)
	}
	r, err := s.rowLocked(rowIndex)
	if err != nil {
		return nil, err
	}
	if !editable(r.Status) {
		return nil, perr.WithRow(perr.Conflictf("row %d is %s and cannot be changed", rowIndex, r.Status), rowIndex)
	}
	return r, nil
}

func (s *Session) clearLoan(r *types.ImportRow) {
	r.LoanID = nil
	r.LoanIDRaw = ""
	r.LoanSource = types.LoanSourceNone
}

// validate recomputes r's verdicts against the current document index.
func (s *Session) validate(r *types.ImportRow) {
	s.validator.ValidateRow(r, s.duplicatesOf)
}

// duplicatesOf lists the other rows carrying doc, in ascending order.
func (s *Session) duplicatesOf(doc string, self int) []int {
	set := s.docIndex[strings.TrimSpace(doc)]
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		if idx != self {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func (s *Session) indexDoc(doc string, rowIndex int) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return
	}
	set, ok := s.docIndex[doc]
	if !ok {
		set = make(map[int]struct{}, 1)
		s.docIndex[doc] = set
	}
	set[rowIndex] = struct{}{}
}

func (s *Session) unindexDoc(doc string, rowIndex int) {
	doc = strings.TrimSpace(doc)
	set, ok := s.docIndex[doc]
	if !ok {
		return
	}
	delete(set, rowIndex)
	if len(set) == 0 {
		delete(s.docIndex, doc)
	}
}

// moveDoc re-keys r in the document index and re-validates the rows that
// shared either value.
func (s *Session) moveDoc(r *types.ImportRow, doc string) {
	old := r.DocumentNumber
	if old == doc {
		return
	}
	oldPeers := s.duplicatesOf(old, r.RowIndex)
	s.unindexDoc(old, r.RowIndex)
	r.DocumentNumber = doc
	s.indexDoc(doc, r.RowIndex)
	newPeers := s.duplicatesOf(doc, r.RowIndex)
	s.revalidate(oldPeers, newPeers)
}

// revalidate refreshes the verdicts of the listed rows.
func (s *Session) revalidate(groups ...[]int) {
	for _, g := range groups {
		for _, idx := range g {
			if p, ok := s.byIndex[idx]; ok {
				s.validate(p)
			}
		}
	}
}

func (s *Session) countsLocked() types.Counts {
	c := types.Counts{Total: len(s.rows)}
	for _, r := range s.rows {
		switch r.Status {
		case types.StatusSaved:
			c.SavedCount++
		case types.StatusDuplicatePending:
			c.Duplicates++
		case types.StatusRoutedToReview:
			c.Routed++
		}
		if !r.HasErrors && r.Status != types.StatusRoutedToReview {
			c.ValidCount++
		}
	}
	return c
}
