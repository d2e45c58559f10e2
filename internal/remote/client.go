// =============================================================================
// Payment Import - Loan Service Client
// =============================================================================
//
// HTTP client for the remote loan-servicing service.
//
// ENDPOINTS:
//   GET  {base}/loans?identity=V-12345678   active and inactive loans of a holder
//   POST {base}/payments                    create one payment
//   GET  {base}/health                      reachability probe
//
// FAILURE MAPPING (POST /payments):
//   409, or a 4xx whose body mentions a duplicate  -> DuplicateOnCommit
//   anything else                                   -> CommitFailed
//
// Calls are bounded by the configured timeout or the context deadline,
// whichever is earlier. A cancelled context stops a call before it is sent.
//
// =============================================================================

package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/types"
	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// maxErrorSnippet caps how much of an error body is kept in messages.
const maxErrorSnippet = 200

// duplicateMarkers identify a duplicate-document rejection in an error body.
var duplicateMarkers = []string{"duplicate", "already exists", "already registered", "unique"}

// Client talks to the loan-servicing service.
type Client struct {
	base         string
	token        string
	timeout      time.Duration
	probeTimeout time.Duration

	http *fasthttp.Client
	log  *logger.Logger
}

// New creates a Client from the service section. probeTimeout bounds Ping.
func New(cfg config.ServiceConfig, probeTimeout time.Duration) *Client {
	if probeTimeout <= 0 {
		probeTimeout = cfg.Timeout
	}
	return &Client{
		base:         strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		timeout:      cfg.Timeout,
		probeTimeout: probeTimeout,
		http: &fasthttp.Client{
			Name:                "payimport",
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: 30 * time.Second,
		},
		log: logger.Named("remote"),
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// paymentWire is the POST /payments body. The amount travels as a JSON
// number without float rounding.
type paymentWire struct {
	Identity       string      `json:"identity"`
	LoanID         *int64      `json:"loan_id"`
	PaymentDate    string      `json:"payment_date"`
	Amount         json.Number `json:"amount"`
	DocumentNumber string      `json:"document_number"`
	Reconciled     bool        `json:"reconciled"`
	Note           *string     `json:"note"`
}

type errorWire struct {
	Message string `json:"message"`
	Detail  any    `json:"detail"`
	Error   string `json:"error"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// LoansByIdentity returns every loan of a holder. A 404 means no loans.
func (c *Client) LoansByIdentity(ctx context.Context, identity string) ([]types.Loan, error) {
	q := url.Values{"identity": {identity}}
	status, body, err := c.do(ctx, fasthttp.MethodGet, "/loans", q, nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to look up loans for %s: %w", identity, err)
	}
	switch {
	case status == fasthttp.StatusNotFound:
		return nil, nil
	case status < 200 || status > 299:
		return nil, fmt.Errorf("failed to look up loans for %s: status %d: %s", identity, status, snippet(body))
	}

	var loans []types.Loan
	if err := json.Unmarshal(body, &loans); err != nil {
		return nil, fmt.Errorf("failed to decode loans for %s: %w", identity, err)
	}
	return loans, nil
}

// CreatePayment submits one payment.
func (c *Client) CreatePayment(ctx context.Context, req types.PaymentRequest) (types.PaymentReceipt, error) {
	wire := paymentWire{
		Identity:       req.Identity,
		LoanID:         req.LoanID,
		PaymentDate:    req.PaymentDate,
		Amount:         json.Number(req.Amount.String()),
		DocumentNumber: req.DocumentNumber,
		Reconciled:     req.Reconciled,
		Note:           req.Note,
	}
	status, body, err := c.do(ctx, fasthttp.MethodPost, "/payments", nil, wire, c.timeout)
	if err != nil {
		return types.PaymentReceipt{}, perr.Wrap(err, perr.ErrorCodeCommitFailed, err.Error())
	}

	if status >= 200 && status <= 299 {
		var receipt types.PaymentReceipt
		if len(body) > 0 {
			if err := json.Unmarshal(body, &receipt); err != nil {
				c.log.Warn().Err(err).Str("document", req.DocumentNumber).Msg("payment saved but receipt unreadable")
			}
		}
		return receipt, nil
	}

	msg := errorMessage(body)
	if isDuplicate(status, msg) {
		return types.PaymentReceipt{}, perr.Newf(perr.ErrorCodeDuplicateOnCommit, "document %s already registered: %s", req.DocumentNumber, msg)
	}
	return types.PaymentReceipt{}, perr.Newf(perr.ErrorCodeCommitFailed, "status %d: %s", status, msg)
}

// Ping probes GET /health with the short probe timeout.
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, fasthttp.MethodGet, "/health", nil, nil, c.probeTimeout)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("health probe returned status %d: %s", status, snippet(body))
	}
	return nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, timeout time.Duration) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	uri := c.base + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if c.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(b)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("took", time.Since(start)).
		Msg("request done")

	// resp is released on return.
	return status, append([]byte(nil), resp.Body()...), nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func isDuplicate(status int, msg string) bool {
	if status == fasthttp.StatusConflict {
		return true
	}
	if status < 400 || status > 499 {
		return false
	}
	lower := strings.ToLower(msg)
	for _, m := range duplicateMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// errorMessage extracts a readable reason from an error body.
func errorMessage(body []byte) string {
	var w errorWire
	if err := json.Unmarshal(body, &w); err == nil {
		switch {
		case w.Message != "":
			return w.Message
		case w.Error != "":
			return w.Error
		case w.Detail != nil:
			if s, ok := w.Detail.(string); ok {
				return s
			}
			if b, err := json.Marshal(w.Detail); err == nil {
				return snippet(b)
			}
		}
	}
	return snippet(body)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
