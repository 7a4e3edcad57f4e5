package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	d := decimal.RequireFromString
	expenses := []Expense{
		{Title: "a", Amount: d("100"), Category: "Food", Date: NewDate(2025, 3, 1), Status: StatusApproved},
		{Title: "b", Amount: d("50.25"), Category: "Food", Date: NewDate(2025, 3, 9), Status: StatusPending},
		{Title: "c", Amount: d("300"), Category: "Rent", Date: NewDate(2025, 3, 2), Status: StatusPending},
		{Title: "d", Amount: d("999"), Category: "Rent", Date: NewDate(2025, 3, 2), Status: StatusRejected},
		{Title: "e", Amount: d("10"), Category: "Food", Date: NewDate(2025, 2, 28), Status: StatusApproved},
	}
	budget := BudgetSettings{MonthlyBudget: d("500"), AlertThreshold: 80}

	s := Summarize(expenses, budget, 2025, 3)

	assert.True(t, s.Total.Equal(d("450.25")), "total %s", s.Total)
	assert.True(t, s.Remaining.Equal(d("49.75")), "remaining %s", s.Remaining)
	assert.Equal(t, 2, s.PendingCount)
	assert.True(t, s.ThresholdReached)

	if assert.Len(t, s.ByCategory, 2) {
		assert.Equal(t, "Rent", s.ByCategory[0].Name)
		assert.True(t, s.ByCategory[1].Amount.Equal(d("150.25")))
	}
	if assert.Len(t, s.Monthly, 2) {
		assert.Equal(t, 2, s.Monthly[0].Month)
		assert.Equal(t, 3, s.Monthly[1].Month)
	}
}

func TestSummarizeEmptyMonth(t *testing.T) {
	s := Summarize(nil, DefaultBudgetSettings(), 2025, 1)
	assert.True(t, s.Total.IsZero())
	assert.True(t, s.Remaining.Equal(decimal.NewFromInt(2500)))
	assert.False(t, s.ThresholdReached)
	assert.Empty(t, s.ByCategory)
}
