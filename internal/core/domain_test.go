package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"2025-01-01", NewDate(2025, 1, 1), true},
		{"2025-12-31T23:10:00Z", NewDate(2025, 12, 31), true},
		{" 2024-02-29 ", NewDate(2024, 2, 29), true},
		{"2025-13-01", Date{}, false},
		{"yesterday", Date{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(tc.want.Time) {
				t.Fatalf("%q expected %v, got %v (err=%v)", tc.in, tc.want, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2025, 3, 7))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2025-03-07"` {
		t.Fatalf("unexpected encoding %s", b)
	}

	var d Date
	if err := json.Unmarshal([]byte(`"2025-03-07"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d.Equal(NewDate(2025, 3, 7).Time) {
		t.Fatalf("unexpected date %v", d)
	}
	if err := json.Unmarshal([]byte(`12`), &d); err == nil {
		t.Fatalf("expected error for non-string date")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		ID:       "a",
		Title:    "Lunch",
		Amount:   decimal.RequireFromString("12.5"),
		Category: "Food & Dining",
		Date:     NewDate(2025, 1, 1),
		Status:   StatusPending,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	zero := good
	zero.Amount = decimal.Zero
	if err := zero.Validate(); err != nil {
		t.Fatalf("zero amount should be allowed, got %v", err)
	}

	mutate := func(f func(*Expense)) Expense {
		e := good
		f(&e)
		return e
	}
	bads := []struct {
		e     Expense
		field string
	}{
		{mutate(func(e *Expense) { e.Title = "  " }), "title"},
		{mutate(func(e *Expense) { e.Amount = decimal.NewFromInt(-1) }), "amount"},
		{mutate(func(e *Expense) { e.Category = "" }), "category"},
		{mutate(func(e *Expense) { e.Date = Date{Time: time.Time{}} }), "date"},
		{mutate(func(e *Expense) { e.Status = "paid" }), "status"},
	}
	for i, tc := range bads {
		err := tc.e.Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
		if ve.Field != tc.field {
			t.Fatalf("case %d expected field %s, got %s", i, tc.field, ve.Field)
		}
	}
}

func TestCategoryAndBudgetValidate(t *testing.T) {
	if err := (Category{Name: "Rent", BudgetPercentage: 40}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Category{Name: "Rent", BudgetPercentage: 140}).Validate(); !errors.Is(err, ErrInvalidPercentage) {
		t.Fatalf("expected percentage error, got %v", err)
	}
	if err := DefaultBudgetSettings().Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
	bad := DefaultBudgetSettings()
	bad.MonthlyBudget = decimal.NewFromInt(-5)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected amount error, got %v", err)
	}
}

func TestSnapshotCloneDoesNotAlias(t *testing.T) {
	s := Snapshot{Categories: DefaultCategories()}
	c := s.Clone()
	c.Categories[0].Name = "changed"
	if s.Categories[0].Name == "changed" {
		t.Fatalf("clone shares backing array")
	}
}

func TestSnapshotJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(Snapshot{
		Expenses:       []Expense{},
		Categories:     DefaultCategories(),
		BudgetSettings: DefaultBudgetSettings(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"expenses", "categories", "budgetSettings", "timestamp"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing key %s in %s", k, b)
		}
	}
	if string(raw["budgetSettings"]) != `{"monthlyBudget":2500,"alertThreshold":80,"notificationsEnabled":true}` {
		t.Fatalf("unexpected budget encoding %s", raw["budgetSettings"])
	}
}
