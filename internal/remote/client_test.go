package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/types"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.ServiceConfig{BaseURL: srv.URL + "/api/", Token: "secret", Timeout: 2 * time.Second}, time.Second)
}

func TestLoansByIdentity(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/loans" || r.URL.Query().Get("identity") != "V-12345678" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_, _ = io.WriteString(w, `[{"id":7,"identity":"V-12345678","status":"disbursed","principal":"1500.50"},
			{"id":8,"identity":"V-12345678","status":"closed","principal":200}]`)
	})
	loans, err := c.LoansByIdentity(context.Background(), "V-12345678")
	if err != nil {
		t.Fatal(err)
	}
	if len(loans) != 2 || loans[0].ID != 7 || !loans[0].Principal.Equal(decimal.RequireFromString("1500.5")) {
		t.Fatalf("loans = %+v", loans)
	}
}

func TestLoansByIdentityNotFoundIsEmpty(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	loans, err := c.LoansByIdentity(context.Background(), "V-1")
	if err != nil || len(loans) != 0 {
		t.Fatalf("loans = %v, err = %v", loans, err)
	}
}

func TestLoansByIdentityServerError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.LoansByIdentity(context.Background(), "V-1"); err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v", err)
	}
}

func TestCreatePaymentWireFormat(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/payments" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		bodies <- body
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":55}`)
	})

	loan := int64(7)
	receipt, err := c.CreatePayment(context.Background(), types.PaymentRequest{
		Identity:       "V-12345678",
		LoanID:         &loan,
		PaymentDate:    "2024-03-01",
		Amount:         decimal.RequireFromString("1234.56"),
		DocumentNumber: "DOC-1",
		Reconciled:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.ID != 55 {
		t.Fatalf("receipt = %+v", receipt)
	}
	got := <-bodies
	if got["amount"] != json.Number("1234.56") || got["loan_id"] != json.Number("7") {
		t.Fatalf("amount/loan_id = %#v / %#v", got["amount"], got["loan_id"])
	}
	if v, ok := got["note"]; !ok || v != nil {
		t.Fatalf("note must be an explicit null: %#v", got)
	}
	if got["payment_date"] != "2024-03-01" || got["reconciled"] != true {
		t.Fatalf("body = %#v", got)
	}
}

func TestCreatePaymentFailureMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   perr.ErrorCode
	}{
		{"conflict", http.StatusConflict, `{"message":"exists"}`, perr.ErrorCodeDuplicateOnCommit},
		{"duplicate message", http.StatusBadRequest, `{"detail":"Duplicate document number"}`, perr.ErrorCodeDuplicateOnCommit},
		{"already exists", http.StatusUnprocessableEntity, `payment already exists`, perr.ErrorCodeDuplicateOnCommit},
		{"validation", http.StatusBadRequest, `{"message":"amount too large"}`, perr.ErrorCodeCommitFailed},
		{"server", http.StatusInternalServerError, `duplicate key`, perr.ErrorCodeCommitFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.CreatePayment(context.Background(), types.PaymentRequest{DocumentNumber: "DOC-1"})
			if got := perr.CodeOf(err); got != tc.want {
				t.Fatalf("code = %s, want %s (%v)", got, tc.want, err)
			}
		})
	}
}

func TestCreatePaymentCancelledContextSendsNothing(t *testing.T) {
	var called atomic.Bool
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) { called.Store(true) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CreatePayment(ctx, types.PaymentRequest{}); !perr.IsCode(err, perr.ErrorCodeCommitFailed) {
		t.Fatalf("err = %v", err)
	}
	if called.Load() {
		t.Fatal("no request may be sent on a cancelled context")
	}
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	healthy.Store(false)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("503 must fail the probe")
	}
}

func TestPingTimeout(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	c.probeTimeout = 50 * time.Millisecond
	start := time.Now()
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("slow probe must fail")
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatal("probe did not honor its timeout")
	}
}
