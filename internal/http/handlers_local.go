package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"expensia/internal/clock"
	"expensia/internal/core"
	applog "expensia/internal/log"
)

// LocalStore is the local data the JSON API reads and mutates.
type LocalStore interface {
	Expenses() []core.Expense
	AddExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, id string) error

	Categories() []core.Category
	AddCategory(ctx context.Context, c core.Category) (core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) error
	DeleteCategory(ctx context.Context, id string) error

	BudgetSettings() core.BudgetSettings
	UpdateBudgetSettings(ctx context.Context, b core.BudgetSettings) error

	Profile() core.UserProfile
	UpdateProfile(ctx context.Context, p core.UserProfile) error
}

type localHandlers struct {
	store   LocalStore
	backups BackupService
	clock   clock.Clock
}

func (h *localHandlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/expenses", h.listExpenses)
	r.Post("/expenses", h.createExpense)
	r.Put("/expenses/{id}", h.updateExpense)
	r.Delete("/expenses/{id}", h.deleteExpense)

	r.Get("/categories", h.listCategories)
	r.Post("/categories", h.createCategory)
	r.Put("/categories/{id}", h.updateCategory)
	r.Delete("/categories/{id}", h.deleteCategory)

	r.Get("/budget", h.getBudget)
	r.Put("/budget", h.updateBudget)
	r.Get("/profile", h.getProfile)
	r.Put("/profile", h.updateProfile)
	r.Get("/summary", h.summary)

	r.Get("/export", h.export)
	r.Post("/import", h.importDocument)
	return r
}

type expenseRequest struct {
	ID       string      `json:"id,omitempty"` // ignored; the path or the store decides
	Title    string      `json:"title"`
	Amount   amountInput `json:"amount"`
	Category string      `json:"category"`
	Date     core.Date   `json:"date"`
	Status   core.Status `json:"status,omitempty"`
}

func (req expenseRequest) expense() (core.Expense, error) {
	if !req.Amount.set {
		return core.Expense{}, &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount}
	}
	return core.Expense{
		Title:    sanitizeInput(req.Title),
		Amount:   req.Amount.Decimal,
		Category: sanitizeInput(req.Category),
		Date:     req.Date,
		Status:   req.Status,
	}, nil
}

func (h *localHandlers) listExpenses(w http.ResponseWriter, r *http.Request) {
	expenses := h.store.Expenses()
	if !hasMonthFilter(r.URL.Query()) {
		writeSuccess(w, r, http.StatusOK, expenses)
		return
	}

	p, err := ParseMonthParams(r.URL.Query(), h.clock.Now())
	if err != nil {
		handleError(w, r, err)
		return
	}
	filtered := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if e.Date.Year() == p.Year && int(e.Date.Month()) == p.Month {
			filtered = append(filtered, e)
		}
	}
	writeSuccess(w, r, http.StatusOK, filtered)
}

func (h *localHandlers) createExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	e, err := req.expense()
	if err != nil {
		handleError(w, r, err)
		return
	}
	created, err := h.store.AddExpense(r.Context(), e)
	if err != nil {
		handleError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Expense created",
		applog.FieldOperation, applog.OpCreate, "id", created.ID, "amount", created.Amount.String())
	writeSuccess(w, r, http.StatusCreated, created)
}

func (h *localHandlers) updateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	e, err := req.expense()
	if err != nil {
		handleError(w, r, err)
		return
	}
	e.ID = chi.URLParam(r, "id")
	if e.Status == "" {
		e.Status = core.StatusPending
	}
	if err := h.store.UpdateExpense(r.Context(), e); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, e)
}

func (h *localHandlers) deleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusNoContent, nil)
}

type categoryRequest struct {
	ID               string  `json:"id,omitempty"`
	Name             string  `json:"name"`
	BudgetPercentage float64 `json:"budgetPercentage"`
}

func (req categoryRequest) category() core.Category {
	return core.Category{Name: sanitizeInput(req.Name), BudgetPercentage: req.BudgetPercentage}
}

func (h *localHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, h.store.Categories())
}

func (h *localHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	created, err := h.store.AddCategory(r.Context(), req.category())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusCreated, created)
}

func (h *localHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	c := req.category()
	c.ID = chi.URLParam(r, "id")
	if err := h.store.UpdateCategory(r.Context(), c); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, c)
}

func (h *localHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusNoContent, nil)
}

type budgetRequest struct {
	MonthlyBudget        amountInput `json:"monthlyBudget"`
	AlertThreshold       float64     `json:"alertThreshold"`
	NotificationsEnabled bool        `json:"notificationsEnabled"`
}

func (h *localHandlers) getBudget(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, h.store.BudgetSettings())
}

func (h *localHandlers) updateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if !req.MonthlyBudget.set {
		handleError(w, r, &core.ValidationError{Field: "monthlyBudget", Err: core.ErrInvalidAmount})
		return
	}
	b := core.BudgetSettings{
		MonthlyBudget:        req.MonthlyBudget.Decimal,
		AlertThreshold:       req.AlertThreshold,
		NotificationsEnabled: req.NotificationsEnabled,
	}
	if err := h.store.UpdateBudgetSettings(r.Context(), b); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, b)
}

func (h *localHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, h.store.Profile())
}

func (h *localHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var p core.UserProfile
	if err := decodeJSON(w, r, &p); err != nil {
		handleError(w, r, err)
		return
	}
	p.Name = sanitizeInput(p.Name)
	p.PhotoURL = strings.TrimSpace(p.PhotoURL)
	if len(p.Name) > 100 {
		handleError(w, r, &core.ValidationError{Field: "name", Err: fmt.Errorf("name too long (max 100 characters)")})
		return
	}
	p.IsProfileComplete = p.Name != ""
	if err := h.store.UpdateProfile(r.Context(), p); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, p)
}

func (h *localHandlers) summary(w http.ResponseWriter, r *http.Request) {
	p, err := ParseMonthParams(r.URL.Query(), h.clock.Now())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, core.Summarize(h.store.Expenses(), h.store.BudgetSettings(), p.Year, p.Month))
}

func (h *localHandlers) export(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("expensia-export-%s.json", h.clock.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := h.backups.Export(r.Context(), w); err != nil {
		// Headers are gone already; the client sees a truncated download.
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Export failed", "error", err)
	}
}

type importResult struct {
	Expenses   int `json:"expenses"`
	Categories int `json:"categories"`
}

func (h *localHandlers) importDocument(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backups.Import(r.Context(), r.Body)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, importResult{Expenses: len(snap.Expenses), Categories: len(snap.Categories)})
}
