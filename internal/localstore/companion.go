package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Companion keys are read through to the KV store on every call so that a
// worker process sharing the database sees the server's latest flags.

// LastBackup returns the time of the last successful backup, or the zero
// time if none was recorded.
func (s *Store) LastBackup(ctx context.Context) (time.Time, error) {
	raw, ok, err := s.kv.Get(ctx, KeyLastBackup)
	if err != nil || !ok {
		return time.Time{}, err
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", KeyLastBackup, err)
	}
	return t, nil
}

func (s *Store) SetLastBackup(ctx context.Context, t time.Time) error {
	return s.setJSON(ctx, KeyLastBackup, t.UTC())
}

// AutoBackupEnabled defaults to false when never set.
func (s *Store) AutoBackupEnabled(ctx context.Context) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, KeyAutoBackup)
	if err != nil || !ok {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("decode %s: %w", KeyAutoBackup, err)
	}
	return v, nil
}

func (s *Store) SetAutoBackupEnabled(ctx context.Context, enabled bool) error {
	return s.setJSON(ctx, KeyAutoBackup, enabled)
}

// Credential returns the cached OAuth token, or nil when there is none.
func (s *Store) Credential(ctx context.Context) (*oauth2.Token, error) {
	raw, ok, err := s.kv.Get(ctx, KeyCredential)
	if err != nil || !ok {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyCredential, err)
	}
	if tok.AccessToken == "" {
		return nil, nil
	}
	return &tok, nil
}

func (s *Store) SetCredential(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return s.ClearCredential(ctx)
	}
	return s.setJSON(ctx, KeyCredential, tok)
}

func (s *Store) ClearCredential(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyCredential); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.SetMany(ctx, map[string][]byte{key: b}); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
