package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/types"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func item(row int, doc string) types.ReviewItem {
	return types.ReviewItem{
		SessionID:      "sess-1",
		SourceFile:     "march.xlsx",
		RowIndex:       row,
		Identity:       "V12345678",
		PaymentDate:    "01/03/2024",
		Amount:         "1234.56",
		DocumentNumber: doc,
		Reason:         "ambiguous loan",
	}
}

func TestEnqueueAssignsIDAndTimestamp(t *testing.T) {
	q := newQueue(t)
	fixed := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	loan := int64(42)
	in := item(3, "DOC-3")
	in.LoanID = &loan
	in.Reconciled = true

	got, err := q.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.CreatedAt != "2024-06-15T10:00:00Z" {
		t.Fatalf("item = %+v", got)
	}

	items, err := q.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("len = %d", len(items))
	}
	if items[0].ID != got.ID || items[0].LoanID == nil || *items[0].LoanID != 42 {
		t.Fatalf("stored = %+v", items[0])
	}
	if !items[0].Reconciled || items[0].Amount != "1234.56" || items[0].CreatedAt != got.CreatedAt {
		t.Fatalf("stored = %+v", items[0])
	}
}

func TestEnqueueNullLoan(t *testing.T) {
	q := newQueue(t)
	if _, err := q.Enqueue(context.Background(), item(1, "DOC-1")); err != nil {
		t.Fatal(err)
	}
	items, err := q.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].LoanID != nil {
		t.Fatalf("loan id = %v, want nil", *items[0].LoanID)
	}
}

func TestEnqueueSameRowTwiceConflicts(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, item(2, "DOC-2")); err != nil {
		t.Fatal(err)
	}
	_, err := q.Enqueue(ctx, item(2, "DOC-2"))
	if !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if n, _ := q.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestListOrderAndLimit(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		q.now = func() time.Time { return at }
		if _, err := q.Enqueue(ctx, item(i, "DOC")); err != nil {
			t.Fatal(err)
		}
	}

	items, err := q.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].RowIndex != 1 || items[1].RowIndex != 2 {
		t.Fatalf("items = %+v", items)
	}
	if n, err := q.Count(ctx); err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestInMemoryOutbox(t *testing.T) {
	q, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()
	if _, err := q.Enqueue(context.Background(), item(1, "DOC-1")); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Count(context.Background()); n != 1 {
		t.Fatalf("count = %d", n)
	}
}
