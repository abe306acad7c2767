/**
 * @description
 * HTTP handlers for the spenn service.
 */
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/spenn-service/internal/app"
	"github.com/transfa/spenn-service/internal/domain"
)

// Reconciler runs the reconciliation sweep.
type Reconciler interface {
	Reconcile(ctx context.Context) (app.ReconciliationResult, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	svc        *app.Service
	simulator  app.Simulator
	reconciler Reconciler
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a new Handler. The simulator and reconciler may be nil, in which
// case the matching endpoints answer 503.
func NewHandler(svc *app.Service, simulator app.Simulator, reconciler Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:        svc,
		simulator:  simulator,
		reconciler: reconciler,
		logger:     logger.With("component", "api"),
		now:        time.Now,
	}
}

type reconciliationResponse struct {
	BatchID    string `json:"batchId,omitempty"`
	Reconciled int    `json:"reconciled"`
	Excluded   int    `json:"excluded"`
	Pending    int    `json:"pending"`
	Skipped    bool   `json:"skipped"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "utbetalingsreferanse"))
	if ref == "" {
		http.Error(w, "Payment reference is required", http.StatusBadRequest)
		return
	}

	txs, err := h.svc.History(r.Context(), ref)
	if err != nil {
		h.logger.Error("failed to load history", "reference", ref, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if len(txs) == 0 {
		http.Error(w, "Payment reference not found", http.StatusNotFound)
		return
	}

	respondWithJSON(w, http.StatusOK, txs)
}

// handleSimulate builds an order from a payment-need body and simulates it without
// storing anything.
func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if h.simulator == nil {
		http.Error(w, "Simulation is not configured", http.StatusServiceUnavailable)
		return
	}

	var event domain.PaymentNeedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	nationalID := strings.TrimSpace(event.NationalID)
	if nationalID == "" || strings.TrimSpace(event.PaymentReference) == "" {
		http.Error(w, "fødselsnummer and utbetalingsreferanse are required", http.StatusBadRequest)
		return
	}

	order, ok, err := app.OrderFromEvent(event, nationalID, h.svc.NextKey(), h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "Nothing to simulate", http.StatusBadRequest)
		return
	}

	result, err := h.simulator.Simulate(r.Context(), h.svc.Codec().SimulationRequest(order, order.Key))
	if err != nil {
		h.logger.Error("side simulation failed", "reference", order.PaymentReference, "error", err)
		http.Error(w, "Simulation failed", http.StatusBadGateway)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		http.Error(w, "Reconciliation is not configured", http.StatusServiceUnavailable)
		return
	}

	result, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		h.logger.Error("on-demand reconciliation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusConflict
	}
	respondWithJSON(w, status, reconciliationResponse{
		BatchID:    result.BatchID,
		Reconciled: result.Reconciled,
		Excluded:   result.Excluded,
		Pending:    result.Pending,
		Skipped:    result.Skipped,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
