package review

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/google/uuid"
)

// Queue is the manual-reconciliation outbox. Rows routed out of an import
// are written here with their full field set; an external consumer drains
// the table.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the outbox database at path.
func Open(path string) (*Queue, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return NewQueue(db), nil
}

// NewQueue wraps an initialized database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Close closes the underlying database.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue stores one item and returns it with its id and creation time. A
// row can be queued only once per session.
func (q *Queue) Enqueue(ctx context.Context, item types.ReviewItem) (types.ReviewItem, error) {
	item.ID = uuid.NewString()
	created := q.now().UTC()
	item.CreatedAt = created.Format(time.RFC3339)

	var loanID any
	if item.LoanID != nil {
		loanID = *item.LoanID
	}

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO review_items
		(id, session_id, source_file, row_index, identity, payment_date, amount,
		 document_number, loan_id, reconciled, reason, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.ID, item.SessionID, item.SourceFile, item.RowIndex, item.Identity,
		item.PaymentDate, item.Amount, item.DocumentNumber, loanID,
		boolToInt(item.Reconciled), item.Reason, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return types.ReviewItem{}, perr.WithRow(perr.Conflictf("row %d of session %s is already queued for review", item.RowIndex, item.SessionID), item.RowIndex)
		}
		return types.ReviewItem{}, fmt.Errorf("insert review item: %w", err)
	}
	return item, nil
}

// List returns up to limit items, oldest first. limit <= 0 means 100.
func (q *Queue) List(ctx context.Context, limit int) ([]types.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, session_id, source_file, row_index, identity, payment_date, amount,
		        document_number, loan_id, reconciled, reason, created_at
		 FROM review_items
		 ORDER BY created_at, rowid
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query review items: %w", err)
	}
	defer rows.Close()

	var items []types.ReviewItem
	for rows.Next() {
		var (
			it         types.ReviewItem
			loanID     sql.NullInt64
			reconciled int
			created    string
		)
		if err := rows.Scan(&it.ID, &it.SessionID, &it.SourceFile, &it.RowIndex, &it.Identity,
			&it.PaymentDate, &it.Amount, &it.DocumentNumber, &loanID, &reconciled, &it.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		if loanID.Valid {
			id := loanID.Int64
			it.LoanID = &id
		}
		it.Reconciled = reconciled != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			it.CreatedAt = t.Format(time.RFC3339)
		} else {
			it.CreatedAt = created
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Count returns the number of queued items.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count review items: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
