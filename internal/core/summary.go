package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// MonthTotal is the spend for one calendar month.
type MonthTotal struct {
	Year  int             `json:"year"`
	Month int             `json:"month"`
	Total decimal.Decimal `json:"total"`
}

// MonthSummary is a compact dashboard view for a specific year+month.
type MonthSummary struct {
	Year             int              `json:"year"`
	Month            int              `json:"month"` // 1-12
	Total            decimal.Decimal  `json:"total"`
	Remaining        decimal.Decimal  `json:"remaining"`
	PendingCount     int              `json:"pendingCount"`
	ThresholdReached bool             `json:"thresholdReached"`
	ByCategory       []CategoryAmount `json:"byCategory"`
	Monthly          []MonthTotal     `json:"monthly"`
}

// Summarize aggregates expenses against the budget for the given month.
// Rejected expenses don't count towards spend.
func Summarize(expenses []Expense, budget BudgetSettings, year, month int) MonthSummary {
	s := MonthSummary{Year: year, Month: month, Total: decimal.Zero}

	byCat := map[string]decimal.Decimal{}
	byMonth := map[[2]int]decimal.Decimal{}

	for _, e := range expenses {
		if e.Status == StatusRejected {
			continue
		}
		key := [2]int{e.Date.Year(), int(e.Date.Month())}
		byMonth[key] = byMonth[key].Add(e.Amount)

		if key[0] != year || key[1] != month {
			continue
		}
		s.Total = s.Total.Add(e.Amount)
		byCat[e.Category] = byCat[e.Category].Add(e.Amount)
		if e.Status == StatusPending {
			s.PendingCount++
		}
	}

	s.Remaining = budget.MonthlyBudget.Sub(s.Total)
	if budget.MonthlyBudget.IsPositive() {
		limit := budget.MonthlyBudget.Mul(decimal.NewFromFloat(budget.AlertThreshold)).Div(decimal.NewFromInt(100))
		s.ThresholdReached = s.Total.GreaterThanOrEqual(limit)
	}

	for name, amt := range byCat {
		s.ByCategory = append(s.ByCategory, CategoryAmount{Name: name, Amount: amt})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		if c := s.ByCategory[i].Amount.Cmp(s.ByCategory[j].Amount); c != 0 {
			return c > 0
		}
		return s.ByCategory[i].Name < s.ByCategory[j].Name
	})

	for k, total := range byMonth {
		s.Monthly = append(s.Monthly, MonthTotal{Year: k[0], Month: k[1], Total: total})
	}
	sort.Slice(s.Monthly, func(i, j int) bool {
		if s.Monthly[i].Year != s.Monthly[j].Year {
			return s.Monthly[i].Year < s.Monthly[j].Year
		}
		return s.Monthly[i].Month < s.Monthly[j].Month
	})

	return s
}
