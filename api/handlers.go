/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the Ledger via REST API. Handles HTTP request/response and JSON
  decoding, then delegates to the finance package. No balance arithmetic
  happens here.

ENDPOINTS:
  Wallets:
    GET    /api/wallets                List wallets
    POST   /api/wallets                Create wallet (balance 0)
    GET    /api/wallets/{id}           Get wallet
    PUT    /api/wallets/{id}           Rename wallet
    DELETE /api/wallets/{id}           Delete unreferenced wallet

  Categories:
    GET    /api/categories             List categories
    POST   /api/categories             Create category
    GET    /api/categories/{id}        Get category
    PUT    /api/categories/{id}        Patch category
    DELETE /api/categories/{id}        Delete unreferenced category

  Transactions:
    GET    /api/transactions           List (wallet_id, category_id, type,
                                       status, from, to)
    POST   /api/transactions           Create, adjusting the wallet balance
    GET    /api/transactions/{id}      Get transaction
    PUT    /api/transactions/{id}      Patch, moving balance between wallets
    DELETE /api/transactions/{id}      Delete, reverting the balance

  Keywords:
    GET    /api/keywords               List keyword mappings
    POST   /api/keywords               Map keyword -> category
    DELETE /api/keywords/{id}          Remove mapping

  Assistant:
    POST   /api/assistant/parse        Free text -> drafts (optionally commit)

  Admin:
    POST   /api/admin/reconcile        Recompute balances, optionally repair

ERROR HANDLING:
  Domain errors map to HTTP status through writeDomainError:
  - 400: finance.ErrValidation (body carries per-field errors)
  - 404: finance.ErrNotFound
  - 409: finance.ErrConflict (duplicate name, deletion blocked)
  - 502: model call failed or returned unusable output
  - 503: assistant.ErrUnavailable
  - 500: everything else; the cause is logged, not returned

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/assistant"
	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *finance.Ledger

	// Parser is nil when no model is configured.
	Parser *assistant.Parser

	// Pinger is optional; without it /healthz only reports liveness.
	Pinger Pinger

	log zerolog.Logger
}

// NewHandler creates a new handler around ledger.
func NewHandler(ledger *finance.Ledger, parser *assistant.Parser, log zerolog.Logger) *Handler {
	return &Handler{
		Ledger: ledger,
		Parser: parser,
		log:    log,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger == nil {
		writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Store: "unchecked"})
		return
	}
	if err := h.Pinger.Ping(r.Context()); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("store ping failed")
		writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "degraded", Store: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Store: "ok"})
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.Ledger.ListWallets(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]finance.WireWallet, len(wallets))
	for i, wl := range wallets {
		dtos[i] = wl.Wire()
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Ledger.GetWallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl.Wire())
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	wl, err := h.Ledger.CreateWallet(r.Context(), finance.WalletInput{Name: req.Name})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wl.Wire())
}

func (h *Handler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req UpdateWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	wl, err := h.Ledger.UpdateWallet(r.Context(), chi.URLParam(r, "id"), finance.WalletInput{Name: req.Name})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl.Wire())
}

func (h *Handler) DeleteWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteWallet(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Ledger.ListCategories(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]finance.WireCategory, len(categories))
	for i, c := range categories {
		dtos[i] = c.Wire()
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Wire())
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Ledger.CreateCategory(r.Context(), req.input())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.Wire())
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req UpdateCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Ledger.UpdateCategory(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Wire())
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions newest first, filtered by query.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	txs, err := h.Ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]finance.WireTransaction, len(txs))
	for i, tx := range txs {
		dtos[i] = tx.Wire()
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx.Wire())
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := req.input()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	tx, err := h.Ledger.CreateTransaction(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx.Wire())
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	patch, err := req.patch()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	tx, err := h.Ledger.UpdateTransaction(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx.Wire())
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTransactionFilter(r *http.Request) (finance.TransactionFilter, error) {
	q := r.URL.Query()
	f := finance.TransactionFilter{
		WalletID:   q.Get("wallet_id"),
		CategoryID: q.Get("category_id"),
		Type:       finance.TxType(q.Get("type")),
		Status:     finance.TxStatus(q.Get("status")),
	}

	v := &finance.ValidationError{}
	if f.Type != "" && !f.Type.Valid() {
		v.Fields = append(v.Fields, finance.FieldError{Field: "type", Message: "must be one of expense, income"})
	}
	if f.Status != "" && !f.Status.Valid() {
		v.Fields = append(v.Fields, finance.FieldError{Field: "status", Message: "must be one of pending, completed, cancelled"})
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := finance.ParseTime(raw)
		if err != nil {
			v.Fields = append(v.Fields, finance.FieldError{Field: p.name, Message: "must be RFC 3339 or YYYY-MM-DD"})
			continue
		}
		*p.dst = &t
	}
	if len(v.Fields) > 0 {
		return f, v
	}
	return f, nil
}

// =============================================================================
// KEYWORD HANDLERS
// =============================================================================

func (h *Handler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.Ledger.ListKeywordMappings(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]finance.WireKeywordMapping, len(mappings))
	for i, m := range mappings {
		dtos[i] = m.Wire()
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateKeyword(w http.ResponseWriter, r *http.Request) {
	var req CreateKeywordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.Ledger.CreateKeywordMapping(r.Context(), finance.KeywordInput{
		Keyword:     req.Keyword,
		CategoryRef: req.CategoryID,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m.Wire())
}

func (h *Handler) DeleteKeyword(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteKeywordMapping(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ASSISTANT HANDLERS
// =============================================================================

// ParseText turns free text into drafts. With commit set, each draft is
// created on its own; a failing draft is reported in failures and does not
// undo the drafts committed before it.
func (h *Handler) ParseText(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	drafts, err := h.Parser.Parse(r.Context(), req.Text)
	if err != nil {
		if finance.IsValidation(err) || errors.Is(err, assistant.ErrUnavailable) || finance.IsUpstream(err) {
			writeDomainError(w, r, err)
			return
		}
		// Model call or model output failed.
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Msg("assistant parse failed")
		writeError(w, http.StatusBadGateway, "Assistant failed", err)
		return
	}

	resp := ParseResponse{Drafts: make([]DraftDTO, len(drafts))}
	for i, d := range drafts {
		resp.Drafts[i] = toDraftDTO(d)
	}

	if !req.Commit {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	for i, d := range drafts {
		tx, err := h.Ledger.CreateTransaction(r.Context(), d.Input())
		if err != nil {
			failure := DraftFailureDTO{Index: i, Error: err.Error()}
			var verr *finance.ValidationError
			if errors.As(err, &verr) {
				failure.Fields = verr.Fields
			}
			resp.Failures = append(resp.Failures, failure)
			continue
		}
		resp.Transactions = append(resp.Transactions, tx.Wire())
	}

	status := http.StatusCreated
	if len(resp.Transactions) == 0 && len(resp.Failures) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Reconcile recomputes wallet balances. The body is optional; ?repair=true
// is accepted as well.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	if r.URL.Query().Get("repair") == "true" {
		req.Repair = true
	}

	drifts, err := h.Ledger.Reconcile(r.Context(), req.Repair)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := ReconcileResponse{Repair: req.Repair, Drifts: make([]DriftDTO, len(drifts))}
	for i, d := range drifts {
		resp.Drifts[i] = toDriftDTO(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeBody decodes the JSON body into dst, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeDomainError maps a finance or assistant error to its HTTP status.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *finance.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Code:   "validation",
			Fields: verr.Fields,
		})
	case errors.Is(err, finance.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Code: "not_found", Details: err.Error()})
	case errors.Is(err, finance.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Conflict", Code: "conflict", Details: err.Error()})
	case errors.Is(err, assistant.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Assistant unavailable", Code: "unavailable"})
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Code: "internal"})
	}
}
