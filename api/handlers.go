/*
handlers.go - HTTP handlers for the billing core

PURPOSE:
  Thin HTTP layer over the billing engine. Handlers decode, validate, call
  the engine, and encode; no billing logic lives here.

ERROR MAPPING:
  - 400: Validation errors (bad amount/date, stale credit, preview mismatch)
  - 404: Referenced record not found
  - 500: Configuration errors, store failures, degraded module loads
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strata/billing-engine/billing"
	"github.com/strata/billing-engine/dues"
	"github.com/strata/billing-engine/metered"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *billing.Engine
	Dues    *dues.Source
	Metered *metered.Source
}

// NewHandler creates a new handler over the engine and its bill sources.
func NewHandler(engine *billing.Engine, duesSrc *dues.Source, meteredSrc *metered.Source) *Handler {
	return &Handler{Engine: engine, Dues: duesSrc, Metered: meteredSrc}
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// PreviewPayment computes a distribution without side effects.
func (h *Handler) PreviewPayment(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	req, asOf, filter, ok := h.decodePayment(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.PreviewPayment(r.Context(), unitID, req.Amount, asOf, req.CreditBalance, filter)
	if err != nil {
		writeBillingError(w, "Preview failed", err)
		return
	}

	previewsServed.Inc()
	writeJSON(w, http.StatusOK, result)
}

// CommitPayment applies a payment atomically.
func (h *Handler) CommitPayment(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	req, asOf, filter, ok := h.decodePayment(w, r)
	if !ok {
		return
	}

	receipt, err := h.Engine.CommitPayment(r.Context(), unitID, req.Amount, asOf, req.CreditBalance, filter, req.ExpectedTotal)
	if err != nil {
		commitsTotal.WithLabelValues("rejected").Inc()
		writeBillingError(w, "Commit failed", err)
		return
	}

	commitsTotal.WithLabelValues("committed").Inc()
	amountCommitted.Add(float64(req.Amount))
	writeJSON(w, http.StatusCreated, CommitResponse{
		TransactionID: receipt.TransactionID,
		Result:        receipt.Result,
	})
}

func (h *Handler) decodePayment(w http.ResponseWriter, r *http.Request) (PaymentRequest, billing.Date, *billing.ObligationFilter, bool) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, billing.Date{}, nil, false
	}

	asOf := billing.Today()
	if req.AsOf != "" {
		parsed, err := billing.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
			return req, billing.Date{}, nil, false
		}
		asOf = parsed
	}

	var filter *billing.ObligationFilter
	if req.ThroughPeriod != "" {
		period, err := billing.ParsePeriod(req.ThroughPeriod)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid through_period", err)
			return req, billing.Date{}, nil, false
		}
		filter = &billing.ObligationFilter{ThroughPeriod: period}
	}
	return req, asOf, filter, true
}

// =============================================================================
// OBLIGATION & RECONCILIATION ENDPOINTS
// =============================================================================

// ListObligations returns the unit's open obligations in allocation order.
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	asOf := billing.Today()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := billing.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
			return
		}
		asOf = parsed
	}

	obligations, err := h.Engine.OpenObligations(r.Context(), unitID, asOf)
	if err != nil {
		writeBillingError(w, "Failed to load obligations", err)
		return
	}

	dtos := make([]ObligationDTO, len(obligations))
	for i, o := range obligations {
		dtos[i] = toObligationDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reconcile runs the read-only drift diagnostic for a unit.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	findings, err := h.Engine.Reconcile(r.Context(), unitID)
	if err != nil {
		writeBillingError(w, "Reconciliation failed", err)
		return
	}
	if findings == nil {
		findings = []billing.Discrepancy{}
	}

	discrepanciesFound.Add(float64(len(findings)))
	writeJSON(w, http.StatusOK, findings)
}

// ReconcileAll sweeps every known unit and returns discrepancies per unit.
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	findings, err := h.Engine.ReconcileAll(r.Context())
	if err != nil {
		writeBillingError(w, "Reconciliation sweep failed", err)
		return
	}

	total := 0
	for _, unitFindings := range findings {
		total += len(unitFindings)
	}
	discrepanciesFound.Add(float64(total))
	writeJSON(w, http.StatusOK, findings)
}

// =============================================================================
// RECORD MANAGEMENT ENDPOINTS
// =============================================================================

// GetDuesRecord fetches a unit's dues record for one fiscal year.
func (h *Handler) GetDuesRecord(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	fiscalYear, err := strconv.Atoi(chi.URLParam(r, "fiscalYear"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fiscal year", err)
		return
	}

	rec, err := h.Dues.GetRecord(r.Context(), unitID, fiscalYear)
	if err != nil {
		writeBillingError(w, "Failed to load dues record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateDuesRecord bills a unit for a fiscal year of recurring dues.
func (h *Handler) CreateDuesRecord(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	var req CreateDuesRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FiscalYear < 1970 || req.MonthlyCharge <= 0 {
		writeError(w, http.StatusBadRequest, "fiscal_year and positive monthly_charge are required", nil)
		return
	}

	rec := dues.NewRecord(unitID, req.FiscalYear, req.MonthlyCharge, req.DueDay, h.Dues.Config().FiscalYearStartMonth)
	rec.PriorClosed = req.PriorClosed
	if err := h.Dues.PutRecord(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store dues record", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// PostMeterReading bills one period of metered consumption.
func (h *Handler) PostMeterReading(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	var req MeterReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := billing.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	if req.Consumption < 0 || req.Tariff <= 0 {
		writeError(w, http.StatusBadRequest, "non-negative consumption and positive tariff are required", nil)
		return
	}
	dueDate, err := billing.ParseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date", err)
		return
	}

	rec := metered.NewRecord(unitID, period, req.Consumption, req.Tariff, dueDate)
	rec.PriorClosed = req.PriorClosed
	if err := h.Metered.PutRecord(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store meter record", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// =============================================================================
// CREDIT ENDPOINTS
// =============================================================================

// GetCreditHistory lists the unit's credit ledger with its folded balance.
func (h *Handler) GetCreditHistory(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	entries, err := h.Engine.Credit().Entries(r.Context(), unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load credit ledger", err)
		return
	}

	resp := CreditHistoryResponse{Entries: make([]CreditEntryDTO, 0, len(entries))}
	for _, e := range entries {
		resp.Balance += e.Amount
		resp.Entries = append(resp.Entries, CreditEntryDTO{
			Seq:           e.Seq,
			Amount:        e.Amount,
			TransactionID: e.TransactionID,
			Type:          string(e.Type),
			Timestamp:     e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Note:          e.Note,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdjustCredit appends a manual signed correction to the credit ledger.
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	var req CreditAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	balance, err := h.Engine.AdjustCredit(r.Context(), unitID, req.Amount, req.Note)
	if err != nil {
		writeBillingError(w, "Adjustment failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// =============================================================================
// RESPONSE HELPERS
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

// writeBillingError maps engine errors onto HTTP statuses.
func writeBillingError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
