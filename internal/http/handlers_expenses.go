package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"expensia/internal/core"
	applog "expensia/internal/log"
	"expensia/internal/storage"
)

// ExpenseRepository is the relational expenses table. It is independent of
// the local store and is never backed up.
type ExpenseRepository interface {
	ListExpenses(ctx context.Context) ([]storage.ExpenseRecord, error)
	GetExpense(ctx context.Context, id int64) (storage.ExpenseRecord, error)
	CreateExpense(ctx context.Context, e storage.ExpenseRecord) (int64, error)
	UpdateExpense(ctx context.Context, e storage.ExpenseRecord) error
	DeleteExpense(ctx context.Context, id int64) error
}

// expenseHandlers keeps the plain response shapes of the legacy REST API:
// bare arrays and {id} / {message} objects instead of the envelope.
type expenseHandlers struct {
	repo ExpenseRepository
}

func (h *expenseHandlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	return r
}

type recordRequest struct {
	Title    string      `json:"title"`
	Amount   amountInput `json:"amount"`
	Category string      `json:"category"`
	Date     core.Date   `json:"date"`
}

func (req recordRequest) record() (storage.ExpenseRecord, error) {
	if !req.Amount.set {
		return storage.ExpenseRecord{}, &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount}
	}
	rec := storage.ExpenseRecord{
		Title:    sanitizeInput(req.Title),
		Amount:   req.Amount.Decimal,
		Category: sanitizeInput(req.Category),
		Date:     req.Date,
	}
	return rec, rec.Validate()
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *expenseHandlers) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.ListExpenses(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if rows == nil {
		rows = []storage.ExpenseRecord{}
	}
	writeJSON(w, r, http.StatusOK, rows)
}

func (h *expenseHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := h.repo.GetExpense(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (h *expenseHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := req.record()
	if err != nil {
		handleError(w, r, err)
		return
	}
	id, err := h.repo.CreateExpense(r.Context(), rec)
	if err != nil {
		handleError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Expense row created",
		applog.FieldOperation, applog.OpCreate, "id", id)
	writeJSON(w, r, http.StatusCreated, map[string]int64{"id": id})
}

func (h *expenseHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := req.record()
	if err != nil {
		handleError(w, r, err)
		return
	}
	rec.ID = id
	if err := h.repo.UpdateExpense(r.Context(), rec); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, messageResponse{Message: "Expense updated successfully"})
}

func (h *expenseHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.repo.DeleteExpense(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, messageResponse{Message: "Expense deleted successfully"})
}
