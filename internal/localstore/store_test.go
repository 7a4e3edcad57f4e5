package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"expensia/internal/core"
	"expensia/internal/storage/memory"
)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	})
}

func newExpense(title, amount string) core.Expense {
	return core.Expense{
		Title:    title,
		Amount:   decimal.RequireFromString(amount),
		Category: "Food & Dining",
		Date:     core.NewDate(2025, 4, 1),
	}
}

// assertSameState compares through JSON so decimal internals don't matter.
func assertSameState(t *testing.T, want, got core.Snapshot) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func TestOpenPersistsDefaults(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()

	s, err := Open(ctx, kv)
	require.NoError(t, err)

	assert.Empty(t, s.Expenses())
	assert.Len(t, s.Categories(), 5)
	assert.True(t, s.BudgetSettings().MonthlyBudget.Equal(decimal.NewFromInt(2500)))
	assert.ElementsMatch(t, []string{KeyExpenses, KeyCategories, KeyBudgetSettings, KeyProfile}, kv.Keys())
}

func TestOpenFallsBackOnCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	require.NoError(t, kv.SetMany(ctx, map[string][]byte{KeyCategories: []byte("{not json")}))

	s, err := Open(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCategories(), s.Categories())
}

func TestMutationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	s, err := Open(ctx, kv, sequentialIDs())
	require.NoError(t, err)

	steps := []func() error{
		func() error { _, err := s.AddExpense(ctx, newExpense("Lunch", "12.5")); return err },
		func() error { _, err := s.AddExpense(ctx, newExpense("Taxi", "30")); return err },
		func() error {
			e := s.Expenses()[1]
			e.Status = core.StatusApproved
			return s.UpdateExpense(ctx, e)
		},
		func() error { _, err := s.AddCategory(ctx, core.Category{Name: "Travel", BudgetPercentage: 10}); return err },
		func() error { return s.DeleteCategory(ctx, "2") },
		func() error {
			b := s.BudgetSettings()
			b.MonthlyBudget = decimal.RequireFromString("3100.75")
			b.NotificationsEnabled = false
			return s.UpdateBudgetSettings(ctx, b)
		},
		func() error { return s.DeleteExpense(ctx, s.Expenses()[0].ID) },
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)

		reopened, err := Open(ctx, kv)
		require.NoError(t, err)
		assertSameState(t, s.Snapshot(), reopened.Snapshot())
	}
}

func TestAddExpensePrependsWithDefaults(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV(), sequentialIDs())
	require.NoError(t, err)

	first, err := s.AddExpense(ctx, newExpense("first", "1"))
	require.NoError(t, err)
	second, err := s.AddExpense(ctx, newExpense("second", "2"))
	require.NoError(t, err)

	assert.Equal(t, core.StatusPending, first.Status)
	assert.NotEqual(t, first.ID, second.ID)
	got := s.Expenses()
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Title)
}

func TestAddExpenseWithRealIDs(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV())
	require.NoError(t, err)

	e, err := s.AddExpense(ctx, newExpense("x", "1"))
	require.NoError(t, err)
	assert.Len(t, e.ID, 36)
}

func TestValidationAndNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV())
	require.NoError(t, err)

	_, err = s.AddExpense(ctx, newExpense("", "1"))
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)

	e := newExpense("ghost", "1")
	e.ID = "missing"
	e.Status = core.StatusPending
	assert.ErrorIs(t, s.UpdateExpense(ctx, e), core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteExpense(ctx, "missing"), core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteCategory(ctx, "missing"), core.ErrNotFound)
}

func TestDeleteCategoryKeepsExpenses(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV())
	require.NoError(t, err)

	_, err = s.AddExpense(ctx, newExpense("Pizza", "9"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteCategory(ctx, "1"))

	assert.Equal(t, "Food & Dining", s.Expenses()[0].Category)
}

func TestFailedWriteLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	s, err := Open(ctx, kv)
	require.NoError(t, err)
	before := s.Snapshot()

	kv.FailWrites = errors.New("disk full")
	_, err = s.AddExpense(ctx, newExpense("x", "1"))
	assert.Error(t, err)
	err = s.ReplaceAll(ctx, core.Snapshot{BudgetSettings: core.DefaultBudgetSettings()})
	assert.Error(t, err)

	assertSameState(t, before, s.Snapshot())
}

func TestGenerationCountsCollectionChanges(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	s, err := Open(ctx, kv)
	require.NoError(t, err)
	g := s.Generation()

	e, err := s.AddExpense(ctx, newExpense("Pizza", "9"))
	require.NoError(t, err)
	assert.Greater(t, s.Generation(), g)
	g = s.Generation()

	e.Title = "Pasta"
	require.NoError(t, s.UpdateExpense(ctx, e))
	assert.Greater(t, s.Generation(), g)
	g = s.Generation()

	require.NoError(t, s.UpdateBudgetSettings(ctx, core.DefaultBudgetSettings()))
	assert.Greater(t, s.Generation(), g)
	g = s.Generation()

	// Neither the profile nor failed writes count.
	require.NoError(t, s.UpdateProfile(ctx, core.DefaultProfile()))
	kv.FailWrites = errors.New("disk full")
	_, err = s.AddExpense(ctx, newExpense("x", "1"))
	assert.Error(t, err)
	assert.Equal(t, g, s.Generation())
}

func TestReplaceAllNotifiesEveryCollection(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV())
	require.NoError(t, err)

	var seen []Collection
	s.OnChange(func(_ context.Context, c Collection) { seen = append(seen, c) })

	snap := core.Snapshot{
		Expenses:       []core.Expense{{ID: "e1", Title: "Rent", Amount: decimal.NewFromInt(900), Category: "Bills", Date: core.NewDate(2025, 1, 1), Status: core.StatusApproved}},
		Categories:     []core.Category{{ID: "c1", Name: "Bills", BudgetPercentage: 100}},
		BudgetSettings: core.BudgetSettings{MonthlyBudget: decimal.NewFromInt(1000), AlertThreshold: 90},
	}
	require.NoError(t, s.ReplaceAll(ctx, snap))

	assert.Equal(t, []Collection{CollectionExpenses, CollectionCategories, CollectionBudget}, seen)
	assertSameState(t, snap, s.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV())
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Categories[0].Name = "mutated"
	assert.Equal(t, "Food & Dining", s.Categories()[0].Name)
}

func TestCompanionKeys(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.NewKV())
	require.NoError(t, err)

	last, err := s.LastBackup(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastBackup(ctx, at))
	last, err = s.LastBackup(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))

	enabled, err := s.AutoBackupEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
	require.NoError(t, s.SetAutoBackupEnabled(ctx, true))
	enabled, err = s.AutoBackupEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	tok, err := s.Credential(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.SetCredential(ctx, &oauth2.Token{AccessToken: "abc", RefreshToken: "r"}))
	tok, err = s.Credential(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "abc", tok.AccessToken)

	require.NoError(t, s.ClearCredential(ctx))
	tok, err = s.Credential(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	s, err := Open(ctx, kv)
	require.NoError(t, err)

	require.NoError(t, s.UpdateProfile(ctx, core.UserProfile{Name: "Sam", IsProfileComplete: true}))
	reopened, err := Open(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, "Sam", reopened.Profile().Name)
}
