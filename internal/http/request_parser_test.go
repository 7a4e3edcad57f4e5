package http

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensia/internal/core"
)

func TestParseMonthParams(t *testing.T) {
	now := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		query   string
		want    MonthParams
		wantErr bool
	}{
		{name: "defaults", query: "", want: MonthParams{Year: 2025, Month: 4}},
		{name: "both", query: "year=2024&month=12", want: MonthParams{Year: 2024, Month: 12}},
		{name: "month only", query: "month=1", want: MonthParams{Year: 2025, Month: 1}},
		{name: "padded", query: "year=+2023+", want: MonthParams{Year: 2023, Month: 4}},
		{name: "month zero", query: "month=0", wantErr: true},
		{name: "month 13", query: "month=13", wantErr: true},
		{name: "year too small", query: "year=1969", wantErr: true},
		{name: "not a number", query: "year=abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			got, err := ParseMonthParams(q, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := parseID(raw)
		assert.ErrorIs(t, err, errBadRequest, raw)
	}
}

func TestAmountInput(t *testing.T) {
	tests := []struct {
		in   string
		want string
		set  bool
		err  bool
	}{
		{in: `12.5`, want: "12.5", set: true},
		{in: `"12,50"`, want: "12.5", set: true},
		{in: `"  7 "`, want: "7", set: true},
		{in: `0`, want: "0", set: true},
		{in: `null`},
		{in: `-1`, err: true},
		{in: `"+3"`, err: true},
		{in: `"twelve"`, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a amountInput
			err := json.Unmarshal([]byte(tt.in), &a)
			if tt.err {
				var verr *core.ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, "amount", verr.Field)
				assert.ErrorIs(t, err, core.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.set, a.set)
			if tt.set {
				assert.True(t, decimal.RequireFromString(tt.want).Equal(a.Decimal), a.String())
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "Lunch", sanitizeInput("  Lunch\x00 "))
	assert.Equal(t, "a\tb\nc", sanitizeInput("a\tb\nc\x07"))
	assert.Equal(t, "", sanitizeInput(" \x1b "))
}
