package cronregistry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/pkg/storage"
)

const DefaultMaxRetries = 5

// ErrRevisionConflict is matched by every *ConflictError.
var ErrRevisionConflict = errors.New("registry revision conflict")

// ConflictError reports that the registry file changed between the read and
// the write of an update.
type ConflictError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("registry %s changed during update (expected revision %.12s, found %.12s)", e.Path, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// Revision identifies one version of the registry file. The empty revision
// means the file does not exist.
type Revision string

func revisionOf(data []byte) Revision {
	if data == nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return Revision(hex.EncodeToString(sum[:]))
}

// Store reads and writes the registry file. Updates are read-modify-write
// cycles guarded by a content revision check and retried on conflict.
type Store struct {
	storage    storage.Storage
	path       string
	maxRetries int
	now        func() time.Time
	metrics    *metrics.Metrics

	mu sync.Mutex
}

type StoreOption func(*Store)

func WithMaxRetries(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func WithStoreMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

func NewStore(st storage.Storage, path string, opts ...StoreOption) *Store {
	s := &Store{
		storage:    st,
		path:       path,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	data, err := s.storage.Read(ctx, s.path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return data, nil
}

// Load returns the current registry. A missing file is an empty registry with
// the empty revision.
func (s *Store) Load(ctx context.Context) (*Registry, Revision, error) {
	data, err := s.read(ctx)
	if err != nil {
		return nil, "", err
	}
	if data == nil {
		return NewRegistry(s.now()), "", nil
	}
	reg, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	if reg.Jobs == nil {
		reg.Jobs = map[string]*CronJob{}
	}
	return reg, revisionOf(data), nil
}

// Update applies fn to a fresh copy of the registry and persists the result.
// fn may run several times and must only depend on the registry it is given.
// Nothing is written when fn leaves the registry unchanged. It reports whether
// the file was written.
//
// The revision is checked again right before the write, but Storage has no
// compare-and-swap, so an external write landing between that check and the
// write is still overwritten. The window is one read plus one write.
func (s *Store) Update(ctx context.Context, fn func(r *Registry) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		written, err := s.tryUpdate(ctx, fn)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, ErrRevisionConflict) {
			return false, err
		}
		s.metrics.RegistryConflict()
		slog.WarnContext(ctx, "registry: concurrent modification, retrying", "attempt", attempt+1, "error", err)
		lastErr = err
	}
	return false, fmt.Errorf("registry update gave up after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *Store) tryUpdate(ctx context.Context, fn func(r *Registry) error) (bool, error) {
	reg, rev, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	before, err := Encode(reg)
	if err != nil {
		return false, err
	}

	if err := fn(reg); err != nil {
		return false, err
	}
	reg.Recompute()

	after, err := Encode(reg)
	if err != nil {
		return false, err
	}
	if rev != "" && bytes.Equal(before, after) {
		return false, nil
	}
	if rev == "" && len(reg.Jobs) == 0 && len(reg.invalid) == 0 {
		// Nothing to create yet.
		return false, nil
	}

	reg.UpdatedAt = FormatTime(s.now())
	out, err := Encode(reg)
	if err != nil {
		return false, err
	}

	// Keep nothing but the revision check between the read and the write.
	current, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if actual := revisionOf(current); actual != rev {
		return false, &ConflictError{Path: s.path, Expected: string(rev), Actual: string(actual)}
	}
	if err := s.storage.Write(ctx, s.path, out); err != nil {
		return false, fmt.Errorf("write registry: %w", err)
	}
	s.metrics.RegistryWrite()
	s.logDiff(ctx, before, out)
	return true, nil
}

func (s *Store) logDiff(ctx context.Context, before, after []byte) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: s.path + " (before)",
		ToFile:   s.path + " (after)",
		Context:  1,
	})
	if err != nil {
		return
	}
	slog.DebugContext(ctx, "registry: written", "path", s.path, "diff", diff)
}
