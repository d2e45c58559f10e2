// =============================================================================
// Payment Import - Ingestion Pipeline
// =============================================================================
//
// This module turns one uploaded workbook into an import session that is
// ready for operator review.
//
// INGESTION PIPELINE:
//   1. Accept or reject the file (size, extension, media type)
//   2. Read the first sheet into raw rows
//   3. Normalize every cell into an import row
//   4. Build the session (validation runs for every row)
//   5. Resolve loan candidates once per distinct identity
//
// A rejected file never produces a session. Row problems never reject the
// file; they stay on the rows as validation verdicts.
//
// =============================================================================

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/normalize"
	"github.com/ginjaninja78/payment-import/internal/resolver"
	"github.com/ginjaninja78/payment-import/internal/session"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/ginjaninja78/payment-import/internal/validation"
	"github.com/ginjaninja78/payment-import/internal/xlsxparser"
)

// =============================================================================
// INPUT AND RESULT
// =============================================================================

// Source is an uploaded file.
type Source struct {
	// Name is the original file name, used for the extension check.
	Name string

	// ContentType is the declared media type, if any.
	ContentType string

	Data []byte
}

// Result is the outcome of ingesting one file.
type Result struct {
	Session *session.Session
	Layout  xlsxparser.Layout
	Stats   Stats
}

// Stats describes an ingestion run.
type Stats struct {
	// RowsRead is the number of non-empty data rows.
	RowsRead int `json:"rowsRead"`

	// ValidRows have no field errors after ingestion.
	ValidRows int `json:"validRows"`

	// Identities is the number of distinct identities looked up.
	Identities int `json:"identities"`

	// Warnings counts rows carrying a lookup warning.
	Warnings int `json:"warnings"`

	ProcessingTime time.Duration `json:"processingTime"`
}

// =============================================================================
// PIPELINE STRUCTURE
// =============================================================================

// Pipeline builds sessions from files. It holds no per-file state and may be
// shared.
type Pipeline struct {
	opts      xlsxparser.Options
	validator *validation.Validator
	resolver  *resolver.Resolver
	log       *logger.Logger
}

// New creates a Pipeline.
//
// PARAMETERS:
//   - cfg: The import section supplies acceptance limits, validation rules and
//     the active loan states.
//   - lookup: The loan service. When nil, rows are not enriched with loans.
//
// RETURNS:
//   - A new Pipeline.
func New(cfg config.ImportConfig, lookup resolver.LoanLookup) *Pipeline {
	p := &Pipeline{
		opts:      xlsxparser.OptionsFromConfig(cfg),
		validator: validation.NewValidator(validation.RulesFromConfig(cfg)),
		log:       logger.Named("ingest"),
	}
	if lookup != nil {
		p.resolver = resolver.New(lookup, cfg.ActiveLoanStates)
	}
	return p
}

// WithValidator replaces the row validator. Tests use it to pin the clock.
func (p *Pipeline) WithValidator(v *validation.Validator) *Pipeline {
	p.validator = v
	return p
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Open runs the ingestion pipeline for one file.
//
// PARAMETERS:
//   - ctx: The parent of the session context; also bounds loan lookups.
//   - src: The uploaded file.
//
// RETURNS:
//   - The ingestion result with a live session; the caller owns the session
//     and must Close it.
//   - A FileRejected error when the file is not acceptable.
func (p *Pipeline) Open(ctx context.Context, src Source) (*Result, error) {
	startTime := time.Now()

	// =========================================================================
	// STEP 1: ACCEPT THE FILE
	// =========================================================================

	p.log.Info().Str("file", src.Name).Int("bytes", len(src.Data)).Msg("ingesting file")

	if err := xlsxparser.CheckFile(src.Name, int64(len(src.Data)), src.ContentType, p.opts); err != nil {
		p.log.Warn().Err(err).Str("file", src.Name).Msg("file rejected")
		return nil, err
	}

	// =========================================================================
	// STEP 2: READ THE SHEET
	// =========================================================================

	sheet, err := xlsxparser.Read(src.Data, src.Name, p.opts)
	if err != nil {
		p.log.Warn().Err(err).Str("file", src.Name).Msg("file rejected")
		return nil, err
	}

	p.log.Debug().
		Str("sheet", sheet.Name).
		Int("rows", len(sheet.Rows)).
		Int("columns", sheet.Columns).
		Int("loan_col", sheet.Layout.LoanIDCol).
		Int("flag_col", sheet.Layout.FlagCol).
		Bool("sniffed", sheet.Layout.Sniffed).
		Msg("sheet read")

	// =========================================================================
	// STEP 3: NORMALIZE ROWS
	// =========================================================================

	rows := BuildRows(sheet.Rows)

	// =========================================================================
	// STEP 4: BUILD THE SESSION
	// =========================================================================

	sess, err := session.New(ctx, src.Name, p.validator, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// =========================================================================
	// STEP 5: RESOLVE LOANS
	// =========================================================================

	identities := len(sess.PendingIdentities())
	if p.resolver != nil {
		sess.SetResolver(p.resolver)
		sess.ResolvePending(sess.Context())
	}

	// =========================================================================
	// COMPLETE
	// =========================================================================

	res := &Result{Session: sess, Layout: sheet.Layout}
	res.Stats.RowsRead = len(rows)
	res.Stats.Identities = identities
	res.Stats.ValidRows = sess.Counts().ValidCount
	for _, r := range sess.Rows() {
		if r.Warning != "" {
			res.Stats.Warnings++
		}
	}
	res.Stats.ProcessingTime = time.Since(startTime)

	logger.C(sess.Context()).Info().
		Int("rows", res.Stats.RowsRead).
		Int("valid", res.Stats.ValidRows).
		Int("identities", res.Stats.Identities).
		Int("warnings", res.Stats.Warnings).
		Dur("took", res.Stats.ProcessingTime).
		Msg("file ingested")
	return res, nil
}

// OpenFile reads a file from disk and ingests it.
func (p *Pipeline) OpenFile(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input file: %w", err)
	}
	// Reject oversized files before loading them.
	if err := xlsxparser.CheckFile(path, info.Size(), "", p.opts); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return p.Open(ctx, Source{Name: filepath.Base(path), Data: data})
}

// =============================================================================
// ROW BUILDING
// =============================================================================

// BuildRows normalizes raw rows into import rows. Loan ids found in the file
// count as explicit selections; loan-id text that is not a positive integer
// is kept in LoanIDRaw for the operator to correct.
func BuildRows(raw []types.RawRow) []types.ImportRow {
	rows := make([]types.ImportRow, 0, len(raw))
	for _, rr := range raw {
		r := types.ImportRow{
			RowIndex:       rr.RowIndex,
			Identity:       normalize.Identity(rr.Cell(xlsxparser.ColIdentity)),
			PaymentDate:    normalize.Date(rr.Cell(xlsxparser.ColPaymentDate)),
			Amount:         normalize.Amount(rr.Cell(xlsxparser.ColAmount)),
			DocumentNumber: normalize.DocumentNumber(rr.Cell(xlsxparser.ColDocumentNumber)),
			Reconciled:     true,
			LoanSource:     types.LoanSourceNone,
			Status:         types.StatusUnsaved,
		}

		if rr.LoanIDCol >= 0 {
			text := rr.Cell(rr.LoanIDCol)
			if id, ok := normalize.LoanID(text); !ok {
				r.LoanIDRaw = text
			} else if id != nil {
				r.LoanID = id
				r.LoanSource = types.LoanSourceFile
			}
		}
		if rr.FlagCol >= 0 {
			r.Reconciled = normalize.Reconciled(rr.Cell(rr.FlagCol))
		}

		rows = append(rows, r)
	}
	return rows
}
