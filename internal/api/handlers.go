package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/ginjaninja78/payment-import/internal/bind"
	"github.com/ginjaninja78/payment-import/internal/commit"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/health"
	"github.com/ginjaninja78/payment-import/internal/ingest"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/normalize"
	"github.com/ginjaninja78/payment-import/internal/session"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/ginjaninja78/payment-import/internal/xlsxparser"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
)

// Ingester builds a session from an uploaded file.
type Ingester interface {
	Open(ctx context.Context, src ingest.Source) (*ingest.Result, error)
}

// StatusSource publishes the latest health probe.
type StatusSource interface {
	Status() health.Status
	Online() bool
}

// ReviewLister reads the review outbox.
type ReviewLister interface {
	List(ctx context.Context, limit int) ([]types.ReviewItem, error)
	Count(ctx context.Context) (int, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	ingest    Ingester
	orch      *commit.Orchestrator
	status    StatusSource
	reviews   ReviewLister
	sessions  *Registry
	maxUpload int64
}

// NewHandlers wires the handlers. status and reviews may be nil.
func NewHandlers(in Ingester, orch *commit.Orchestrator, status StatusSource, reviews ReviewLister, sessions *Registry, maxFileBytes int64) *Handlers {
	return &Handlers{
		ingest:    in,
		orch:      orch,
		status:    status,
		reviews:   reviews,
		sessions:  sessions,
		maxUpload: maxFileBytes + 1<<20,
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Named("http").Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := perr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway {
		logger.Named("http").Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, perr.WireFrom(err))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func (h *Handlers) sessionFor(r *http.Request) (*session.Session, error) {
	return h.sessions.Get(chi.URLParam(r, "id"))
}

func rowParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "row")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, perr.InvalidArgf("invalid row index %q", raw)
	}
	return n, nil
}

// requireOnline refuses commit routes while the last probe failed.
func (h *Handlers) requireOnline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.status != nil && !h.status.Online() {
			st := h.status.Status()
			var cause error
			if st.LastError != "" {
				cause = perr.New(perr.ErrorCodeServiceUnreachable, st.LastError)
			}
			writeError(w, perr.ServiceUnreachable(cause))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- GetHealth ---

func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	st := health.Status{State: health.StateUnknown}
	if h.status != nil {
		st = h.status.Status()
	}
	writeJSON(w, http.StatusOK, st)
}

// --- CreateImport ---

type importResponse struct {
	Session session.Snapshot  `json:"session"`
	Layout  xlsxparser.Layout `json:"layout"`
	Stats   ingest.Stats      `json:"stats"`
}

func (h *Handlers) CreateImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, perr.FileRejectedf("invalid multipart upload: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, perr.WithField(perr.InvalidArgf("file field is required"), "file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, perr.Wrap(err, perr.ErrorCodeFileRejected, "failed to read upload"))
		return
	}

	// The session outlives this request.
	res, err := h.ingest.Open(context.WithoutCancel(r.Context()), ingest.Source{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if h.status != nil {
		if st := h.status.Status().State; st != health.StateUnknown {
			res.Session.SetServiceStatus(st == health.StateOnline)
		}
	}
	h.sessions.Add(res.Session)

	writeJSON(w, http.StatusCreated, importResponse{
		Session: res.Session.Snapshot(),
		Layout:  res.Layout,
		Stats:   res.Stats,
	})
}

// --- GetImport / CloseImport ---

func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handlers) CloseImport(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- EditRow ---

type editRequest struct {
	Field string  `json:"field" validate:"required,oneof=identity paymentDate amount documentNumber loanId reconciled"`
	Value *string `json:"value" validate:"required"`
}

func (h *Handlers) EditRow(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := rowParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := bind.ParseJSON[editRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	field, _ := types.ParseField(req.Field)
	var row types.ImportRow
	// A well-formed loan id is a selection and must be one of the candidates.
	if id, ok := normalize.LoanID(*req.Value); field == types.FieldLoanID && ok && id != nil {
		row, err = s.SelectLoan(idx, *id)
	} else {
		row, err = s.EditCell(idx, field, *req.Value)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if field == types.FieldIdentity {
		// a new identity needs its loans before the row can commit
		s.ResolvePending(r.Context())
		if row, err = s.Row(idx); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, row)
}

// --- CommitRow / CommitAll ---

type commitRowResponse struct {
	Outcome commit.RowOutcome `json:"outcome"`
	Row     types.ImportRow   `json:"row"`
	Counts  types.Counts      `json:"counts"`
}

func (h *Handlers) CommitRow(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := rowParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.orch.CommitRow(r.Context(), s, idx)
	if err != nil {
		writeError(w, err)
		return
	}
	row, _ := s.Row(idx)
	writeJSON(w, http.StatusOK, commitRowResponse{Outcome: out, Row: row, Counts: s.Counts()})
}

func (h *Handlers) CommitAll(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.orch.CommitAll(r.Context(), s, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.AutoClose {
		_ = h.sessions.Close(s.ID())
	}
	writeJSON(w, http.StatusOK, res)
}

// --- RouteRow ---

type routeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handlers) RouteRow(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := rowParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := bind.ParseJSON[routeRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	item, err := h.orch.RouteToReview(r.Context(), s, idx, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// --- ListReviews ---

type reviewsResponse struct {
	Items []types.ReviewItem `json:"items"`
	Total int                `json:"total"`
}

func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	if h.reviews == nil {
		writeJSON(w, http.StatusOK, reviewsResponse{Items: []types.ReviewItem{}})
		return
	}
	items, err := h.reviews.List(r.Context(), parseIntDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := h.reviews.Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []types.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, reviewsResponse{Items: items, Total: total})
}
