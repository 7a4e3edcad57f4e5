package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"expensia/internal/core"
)

// ExpenseRecord is a row of the relational expenses table. It is independent
// of the local store collections.
type ExpenseRecord struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
	Date     core.Date       `json:"date"`
}

func (e ExpenseRecord) Validate() error {
	return core.Expense{
		Title:    e.Title,
		Amount:   e.Amount,
		Category: e.Category,
		Date:     e.Date,
		Status:   core.StatusPending,
	}.Validate()
}

// ListExpenses returns every row, most recent date first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]ExpenseRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, amount, category, date FROM expenses ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []ExpenseRecord
	for rows.Next() {
		rec, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (ExpenseRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, amount, category, date FROM expenses WHERE id = ?`, id)
	rec, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ExpenseRecord{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return rec, err
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e ExpenseRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (title, amount, category, date) VALUES (?, ?, ?, ?)`,
		e.Title, e.Amount.String(), e.Category, e.Date.String())
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", id,
		"title", e.Title,
		"amount", e.Amount.String(),
		"date", e.Date.String())

	return id, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e ExpenseRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET title = ?, amount = ?, category = ?, date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		e.Title, e.Amount.String(), e.Category, e.Date.String(), e.ID)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	return requireAffected(res, e.ID)
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	return requireAffected(res, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (ExpenseRecord, error) {
	var (
		rec    ExpenseRecord
		amount string
		date   string
	)
	if err := s.Scan(&rec.ID, &rec.Title, &amount, &rec.Category, &date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan expense: %w", err)
	}
	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return rec, fmt.Errorf("parse amount of expense %d: %w", rec.ID, err)
	}
	if rec.Date, err = core.ParseDate(date); err != nil {
		return rec, fmt.Errorf("parse date of expense %d: %w", rec.ID, err)
	}
	return rec, nil
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return nil
}
