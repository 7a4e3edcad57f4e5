// Package memory is an in-process drive.FileStore used by tests and offline
// runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"expensia/internal/drive"
)

type Store struct {
	mu    sync.Mutex
	seq   int
	files map[string]stored
	now   func() time.Time

	calls   int
	uploads int
	deletes int

	// Failure hooks. A non-nil hook's error is returned instead of the result.
	ListErr     func() error
	UploadErr   func(name string) error
	DownloadErr func(id string) error
	DeleteErr   func(id string) error
	ProbeErr    func() error

	// UploadHook runs inside Upload before the file is stored, without the
	// lock held. Tests use it to hold an upload in flight.
	UploadHook func()
}

type stored struct {
	file    drive.File
	content []byte
}

var (
	_ drive.FileStore = (*Store)(nil)
	_ drive.Prober    = (*Store)(nil)
)

// New returns an empty store. Creation times come from now, which defaults
// to time.Now; each new file gets a strictly later time than the previous one.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{files: make(map[string]stored), now: now}
}

func (s *Store) List(_ context.Context, nameContains string) ([]drive.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.ListErr != nil {
		if err := s.ListErr(); err != nil {
			return nil, err
		}
	}

	var out []drive.File
	for _, f := range s.files {
		if strings.Contains(f.file.Name, nameContains) {
			out = append(out, f.file)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedTime.After(out[j].CreatedTime)
	})
	return out, nil
}

func (s *Store) Upload(_ context.Context, name string, content []byte) (drive.File, error) {
	s.mu.Lock()
	s.calls++
	hook := s.UploadHook
	if s.UploadErr != nil {
		if err := s.UploadErr(name); err != nil {
			s.mu.Unlock()
			return drive.File{}, err
		}
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	created := s.now().Add(time.Duration(s.seq) * time.Millisecond)
	f := drive.File{
		ID:          fmt.Sprintf("file-%d", s.seq),
		Name:        name,
		CreatedTime: created,
		Size:        int64(len(content)),
	}
	s.files[f.ID] = stored{file: f, content: append([]byte(nil), content...)}
	s.uploads++
	return f, nil
}

func (s *Store) Download(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.DownloadErr != nil {
		if err := s.DownloadErr(id); err != nil {
			return nil, err
		}
	}
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s not found", id)
	}
	return append([]byte(nil), f.content...), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.DeleteErr != nil {
		if err := s.DeleteErr(id); err != nil {
			return err
		}
	}
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s not found", id)
	}
	delete(s.files, id)
	s.deletes++
	return nil
}

func (s *Store) Probe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.ProbeErr != nil {
		return s.ProbeErr()
	}
	return nil
}

// Put stores a file directly, bypassing counters. For seeding tests.
func (s *Store) Put(name string, content []byte, created time.Time) drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f := drive.File{ID: fmt.Sprintf("file-%d", s.seq), Name: name, CreatedTime: created, Size: int64(len(content))}
	s.files[f.ID] = stored{file: f, content: append([]byte(nil), content...)}
	return f
}

// Calls counts every remote operation attempted.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Store) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func (s *Store) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// Names returns stored file names, newest first.
func (s *Store) Names() []string {
	files, _ := s.snapshotList()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

func (s *Store) snapshotList() ([]drive.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]drive.File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.file)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedTime.After(out[j].CreatedTime)
	})
	return out, nil
}
