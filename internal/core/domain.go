package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

const dateLayout = "2006-01-02"

type (
	Status string

	// Date is a calendar date serialized as YYYY-MM-DD.
	Date struct {
		time.Time
	}

	Expense struct {
		ID       string          `json:"id"`
		Title    string          `json:"title"`
		Amount   decimal.Decimal `json:"amount"`
		Category string          `json:"category"` // loosely references Category.Name
		Date     Date            `json:"date"`
		Status   Status          `json:"status"`
	}

	Category struct {
		ID               string  `json:"id"`
		Name             string  `json:"name"`
		BudgetPercentage float64 `json:"budgetPercentage"`
	}

	BudgetSettings struct {
		MonthlyBudget        decimal.Decimal `json:"monthlyBudget"`
		AlertThreshold       float64         `json:"alertThreshold"`
		NotificationsEnabled bool            `json:"notificationsEnabled"`
	}

	// Snapshot is the full exportable state. Field names match the backup
	// document format so files stay interchangeable.
	Snapshot struct {
		Expenses       []Expense      `json:"expenses"`
		Categories     []Category     `json:"categories"`
		BudgetSettings BudgetSettings `json:"budgetSettings"`
		Timestamp      time.Time      `json:"timestamp"`
	}

	UserProfile struct {
		Name              string `json:"name"`
		PhotoURL          string `json:"photoUrl"`
		IsProfileComplete bool   `json:"isProfileComplete"`
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	y, m, d := t.Date()
	return NewDate(y, int(m), d), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Title)) == 0 {
		return &ValidationError{Field: "title", Err: ErrEmptyTitle}
	}
	if len(e.Title) > 200 {
		return &ValidationError{Field: "title", Err: ErrTitleTooLong}
	}
	if err := ValidateAmount(e.Amount); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if strings.TrimSpace(e.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if err := e.Date.Validate(); err != nil {
		return &ValidationError{Field: "date", Err: err}
	}
	if !e.Status.Valid() {
		return &ValidationError{Field: "status", Err: ErrInvalidStatus}
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyCategory}
	}
	if err := validatePercentage(c.BudgetPercentage); err != nil {
		return &ValidationError{Field: "budgetPercentage", Err: err}
	}
	return nil
}

func (b BudgetSettings) Validate() error {
	if err := ValidateAmount(b.MonthlyBudget); err != nil {
		return &ValidationError{Field: "monthlyBudget", Err: err}
	}
	if err := validatePercentage(b.AlertThreshold); err != nil {
		return &ValidationError{Field: "alertThreshold", Err: err}
	}
	return nil
}

func validatePercentage(p float64) error {
	if p < 0 || p > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// Clone returns a copy that shares no backing arrays with s. Nil
// collections become empty ones so they encode as [] rather than null.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Expenses:       append(make([]Expense, 0, len(s.Expenses)), s.Expenses...),
		Categories:     append(make([]Category, 0, len(s.Categories)), s.Categories...),
		BudgetSettings: s.BudgetSettings,
		Timestamp:      s.Timestamp,
	}
}
