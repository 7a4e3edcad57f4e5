// Package localstore holds the canonical application state: expenses,
// categories and budget settings, plus the companion keys used by the cloud
// backup flow. Every mutation is persisted through a single atomic KV write
// before it becomes visible to readers.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"expensia/internal/core"
)

// Persisted keys.
const (
	KeyExpenses       = "expenses"
	KeyCategories     = "categories"
	KeyBudgetSettings = "budgetSettings"
	KeyProfile        = "userProfile"
	KeyLastBackup     = "lastBackupDate"
	KeyAutoBackup     = "autoBackupEnabled"
	KeyCredential     = "googleAccessToken"
)

// KV is the persistence port. SetMany must apply all entries or none.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetMany(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
}

// Collection names the data sets whose changes trigger auto-backup.
type Collection string

const (
	CollectionExpenses   Collection = KeyExpenses
	CollectionCategories Collection = KeyCategories
	CollectionBudget     Collection = KeyBudgetSettings
)

// ChangeListener is called after a collection was persisted. It runs on the
// mutating goroutine and must not block.
type ChangeListener func(ctx context.Context, c Collection)

type Store struct {
	kv    KV
	newID func() string

	mu         sync.RWMutex
	expenses   []core.Expense
	categories []core.Category
	budget     core.BudgetSettings
	profile    core.UserProfile
	gen        uint64 // bumped on every change to the three collections

	listenersMu sync.RWMutex
	listeners   []ChangeListener
}

type Option func(*Store)

// WithIDGenerator overrides the UUID generator used for new entities.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// Open loads state from kv. Missing or unreadable keys fall back to the
// defaults, which are then persisted so the stored state is always complete.
func Open(ctx context.Context, kv KV, opts ...Option) (*Store, error) {
	s := &Store{kv: kv, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the collections from the KV store. Used by processes that
// share the database with a writer in another process.
func (s *Store) Reload(ctx context.Context) error {
	missing := map[string][]byte{}

	expenses, err := loadKey(ctx, s.kv, KeyExpenses, []core.Expense{}, missing)
	if err != nil {
		return err
	}
	categories, err := loadKey(ctx, s.kv, KeyCategories, core.DefaultCategories(), missing)
	if err != nil {
		return err
	}
	budget, err := loadKey(ctx, s.kv, KeyBudgetSettings, core.DefaultBudgetSettings(), missing)
	if err != nil {
		return err
	}
	profile, err := loadKey(ctx, s.kv, KeyProfile, core.DefaultProfile(), missing)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		if err := s.kv.SetMany(ctx, missing); err != nil {
			return fmt.Errorf("persist defaults: %w", err)
		}
	}

	s.mu.Lock()
	s.expenses = expenses
	s.categories = categories
	s.budget = budget
	s.profile = profile
	s.gen++
	s.mu.Unlock()
	return nil
}

func loadKey[T any](ctx context.Context, kv KV, key string, def T, missing map[string][]byte) (T, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("load %s: %w", key, err)
	}
	if ok {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			return v, nil
		}
		slog.WarnContext(ctx, "Stored value unreadable, using default", "key", key, "error", err)
	}
	b, err := json.Marshal(def)
	if err != nil {
		return def, fmt.Errorf("encode default %s: %w", key, err)
	}
	missing[key] = b
	return def, nil
}

// OnChange registers a listener for collection mutations.
func (s *Store) OnChange(l ChangeListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(ctx context.Context, cs ...Collection) {
	s.listenersMu.RLock()
	ls := append([]ChangeListener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, c := range cs {
		for _, l := range ls {
			l(ctx, c)
		}
	}
}

// Generation counts changes to expenses, categories and budget settings.
// A snapshot taken after reading generation g includes every change up to g.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Store) Expenses() []core.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Expense(nil), s.expenses...)
}

func (s *Store) Categories() []core.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Category(nil), s.categories...)
}

func (s *Store) BudgetSettings() core.BudgetSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budget
}

// Snapshot returns a consistent copy of all three collections. The
// timestamp is left for the caller to stamp.
func (s *Store) Snapshot() core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.Snapshot{
		Expenses:       s.expenses,
		Categories:     s.categories,
		BudgetSettings: s.budget,
	}.Clone()
}

// AddExpense assigns an id, defaults the status to pending and prepends the
// expense so the newest entry comes first.
func (s *Store) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.ID = s.newID()
	if e.Status == "" {
		e.Status = core.StatusPending
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	s.mu.Lock()
	next := make([]core.Expense, 0, len(s.expenses)+1)
	next = append(next, e)
	next = append(next, s.expenses...)
	if err := s.persist(ctx, map[string]any{KeyExpenses: next}); err != nil {
		s.mu.Unlock()
		return core.Expense{}, err
	}
	s.expenses = next
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionExpenses)
	return e, nil
}

func (s *Store) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	idx := indexOf(s.expenses, func(x core.Expense) bool { return x.ID == e.ID })
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("expense %s: %w", e.ID, core.ErrNotFound)
	}
	next := append([]core.Expense(nil), s.expenses...)
	next[idx] = e
	if err := s.persist(ctx, map[string]any{KeyExpenses: next}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.expenses = next
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionExpenses)
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := indexOf(s.expenses, func(x core.Expense) bool { return x.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	next := make([]core.Expense, 0, len(s.expenses)-1)
	next = append(next, s.expenses[:idx]...)
	next = append(next, s.expenses[idx+1:]...)
	if err := s.persist(ctx, map[string]any{KeyExpenses: next}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.expenses = next
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionExpenses)
	return nil
}

// AddCategory appends the category with a fresh id.
func (s *Store) AddCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c.ID = s.newID()
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	s.mu.Lock()
	next := append(append([]core.Category(nil), s.categories...), c)
	if err := s.persist(ctx, map[string]any{KeyCategories: next}); err != nil {
		s.mu.Unlock()
		return core.Category{}, err
	}
	s.categories = next
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionCategories)
	return c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	idx := indexOf(s.categories, func(x core.Category) bool { return x.ID == c.ID })
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("category %s: %w", c.ID, core.ErrNotFound)
	}
	next := append([]core.Category(nil), s.categories...)
	next[idx] = c
	if err := s.persist(ctx, map[string]any{KeyCategories: next}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.categories = next
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionCategories)
	return nil
}

// DeleteCategory removes the category only; expenses tagged with its name
// are left alone.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := indexOf(s.categories, func(x core.Category) bool { return x.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	next := make([]core.Category, 0, len(s.categories)-1)
	next = append(next, s.categories[:idx]...)
	next = append(next, s.categories[idx+1:]...)
	if err := s.persist(ctx, map[string]any{KeyCategories: next}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.categories = next
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionCategories)
	return nil
}

// UpdateBudgetSettings replaces the settings wholesale.
func (s *Store) UpdateBudgetSettings(ctx context.Context, b core.BudgetSettings) error {
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.persist(ctx, map[string]any{KeyBudgetSettings: b}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.budget = b
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionBudget)
	return nil
}

// ReplaceAll overwrites all three collections in one atomic write. Either
// every collection changes or none does.
func (s *Store) ReplaceAll(ctx context.Context, snap core.Snapshot) error {
	snap = snap.Clone()

	s.mu.Lock()
	err := s.persist(ctx, map[string]any{
		KeyExpenses:       snap.Expenses,
		KeyCategories:     snap.Categories,
		KeyBudgetSettings: snap.BudgetSettings,
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.expenses = snap.Expenses
	s.categories = snap.Categories
	s.budget = snap.BudgetSettings
	s.gen++
	s.mu.Unlock()

	s.notify(ctx, CollectionExpenses, CollectionCategories, CollectionBudget)
	return nil
}

func (s *Store) Profile() core.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Store) UpdateProfile(ctx context.Context, p core.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, map[string]any{KeyProfile: p}); err != nil {
		return err
	}
	s.profile = p
	return nil
}

// persist encodes and writes the given keys atomically. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, values map[string]any) error {
	entries := make(map[string][]byte, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		entries[k] = b
	}
	if err := s.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func indexOf[T any](xs []T, match func(T) bool) int {
	for i, x := range xs {
		if match(x) {
			return i
		}
	}
	return -1
}
