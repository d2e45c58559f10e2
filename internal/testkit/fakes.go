package testkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/shopspring/decimal"
)

// ErrBoom is a generic remote failure
var ErrBoom = errors.New("boom")

// FakeService is an in-memory loan-servicing service. It records every call
// in order and is safe for concurrent use.
type FakeService struct {
	mu sync.Mutex

	// Loans keyed by hyphenated identity
	Loans map[string][]types.Loan
	// LookupErr fails lookups for a hyphenated identity
	LookupErr map[string]error
	// Persisted document numbers; committing one again is a duplicate
	Persisted map[string]bool
	// FailDocs fails commits for a document number with the given error
	FailDocs map[string]error
	// Offline makes Ping fail
	Offline bool

	// InFlight / MaxInFlight track commit concurrency
	InFlight    int
	MaxInFlight int

	Calls   []string
	Commits []types.PaymentRequest
	nextID  int64
}

// NewFakeService returns an empty online service
func NewFakeService() *FakeService {
	return &FakeService{
		Loans:     map[string][]types.Loan{},
		LookupErr: map[string]error{},
		Persisted: map[string]bool{},
		FailDocs:  map[string]error{},
	}
}

// ActiveLoan builds a disbursed loan for identity
func ActiveLoan(id int64, identity string) types.Loan {
	return types.Loan{ID: id, Identity: identity, Status: "disbursed", Principal: decimal.NewFromInt(1000)}
}

// AddLoans registers loans under a hyphenated identity
func (f *FakeService) AddLoans(identity string, loans ...types.Loan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Loans[identity] = append(f.Loans[identity], loans...)
}

// SetOffline toggles the health probe
func (f *FakeService) SetOffline(v bool) {
	f.mu.Lock()
	f.Offline = v
	f.mu.Unlock()
}

// LoansByIdentity implements resolver.LoanLookup
func (f *FakeService) LoansByIdentity(ctx context.Context, identity string) ([]types.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "lookup:"+identity)
	if err := f.LookupErr[identity]; err != nil {
		return nil, err
	}
	return append([]types.Loan(nil), f.Loans[identity]...), nil
}

// CreatePayment implements commit.PaymentCommitter
func (f *FakeService) CreatePayment(ctx context.Context, req types.PaymentRequest) (types.PaymentReceipt, error) {
	f.mu.Lock()
	f.InFlight++
	f.MaxInFlight = max(f.MaxInFlight, f.InFlight)
	f.Calls = append(f.Calls, "commit:"+req.DocumentNumber)
	f.Commits = append(f.Commits, req)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.InFlight--
		f.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return types.PaymentReceipt{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailDocs[req.DocumentNumber]; err != nil {
		return types.PaymentReceipt{}, err
	}
	if f.Persisted[req.DocumentNumber] {
		return types.PaymentReceipt{}, perr.DuplicateOnCommit(0, fmt.Errorf("document %s exists", req.DocumentNumber))
	}
	f.Persisted[req.DocumentNumber] = true
	f.nextID++
	return types.PaymentReceipt{ID: f.nextID}, nil
}

// Ping implements health.Prober
func (f *FakeService) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Offline {
		return errors.New("connection refused")
	}
	return nil
}

// CallLog returns a copy of the recorded calls
func (f *FakeService) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// CommitCount returns how many commit calls were issued
func (f *FakeService) CommitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commits)
}

// FakeReviewSink collects rows routed to review
type FakeReviewSink struct {
	mu    sync.Mutex
	Items []types.ReviewItem
	Err   error
}

// Enqueue implements commit.ReviewSink
func (s *FakeReviewSink) Enqueue(ctx context.Context, item types.ReviewItem) (types.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.ReviewItem{}, s.Err
	}
	item.ID = fmt.Sprintf("review-%d", len(s.Items)+1)
	s.Items = append(s.Items, item)
	return item, nil
}
