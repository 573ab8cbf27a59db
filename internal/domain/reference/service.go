package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/sidra/sidra/internal/intake/selection"
)

var ErrUnknownKind = errors.New("unknown reference list")

// Service serves reference lists from an in-memory copy of the
// reference_item table. The copy is rebuilt on Refresh and per kind after
// every write.
type Service struct {
	repo   Repository
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]Item

	updating  atomic.Bool
	scheduler *gocron.Scheduler
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		cache:  make(map[string][]Item),
	}
}

// withOther drops any stored sentinel row and appends the canonical one
// for lists that accept "Other".
func withOther(kind string, items []*Item) []Item {
	out := make([]Item, 0, len(items)+1)
	last := 0
	for _, it := range items {
		if it.ID == OtherID {
			continue
		}
		out = append(out, *it)
		if it.Position > last {
			last = it.Position
		}
	}
	if AcceptsOther(kind) {
		out = append(out, Item{Kind: kind, ID: OtherID, Label: OtherLabel, Position: last + 1, Active: true})
	}
	return out
}

// Refresh reloads every list. A refresh already in progress makes this a
// no-op.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.updating.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("reference refresh already in progress, skipping")
		return nil
	}
	defer s.updating.Store(false)

	start := time.Now()
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load reference lists: %w", err)
	}
	byKind := make(map[string][]*Item)
	for _, it := range all {
		byKind[it.Kind] = append(byKind[it.Kind], it)
	}
	next := make(map[string][]Item, len(Kinds))
	for _, kind := range Kinds {
		next[kind] = withOther(kind, byKind[kind])
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()

	s.logger.Info().Int("items", len(all)).Dur("duration", time.Since(start)).Msg("reference lists refreshed")
	return nil
}

// Items returns the list of the given kind, loading it on a cache miss.
func (s *Service) Items(ctx context.Context, kind string) ([]Item, error) {
	if !KnownKind(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	s.mu.RLock()
	cached, ok := s.cache[kind]
	s.mu.RUnlock()
	if ok {
		return append([]Item(nil), cached...), nil
	}

	rows, err := s.repo.ListByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	items := withOther(kind, rows)
	s.mu.Lock()
	s.cache[kind] = items
	s.mu.Unlock()
	return append([]Item(nil), items...), nil
}

// Children returns the items of kind whose parent is parentID, such as the
// cities of one governorate.
func (s *Service) Children(ctx context.Context, kind string, parentID int) ([]Item, error) {
	items, err := s.Items(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it.ParentID != nil && *it.ParentID == parentID {
			out = append(out, it)
		}
	}
	return out, nil
}

// List serves the intake wizard's option groups.
func (s *Service) List(ctx context.Context, kind string) ([]selection.Item, error) {
	items, err := s.Items(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]selection.Item, len(items))
	for i, it := range items {
		out[i] = selection.Item{ID: it.ID, Label: it.Label}
	}
	return out, nil
}

func (s *Service) Upsert(ctx context.Context, it *Item) error {
	if !KnownKind(it.Kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, it.Kind)
	}
	if it.ID == OtherID {
		return fmt.Errorf("id %d is reserved", OtherID)
	}
	if it.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	it.Label = strings.TrimSpace(it.Label)
	if it.Label == "" {
		return fmt.Errorf("label is required")
	}
	if err := s.repo.Upsert(ctx, it); err != nil {
		return err
	}
	s.invalidate(it.Kind)
	return nil
}

func (s *Service) Delete(ctx context.Context, kind string, id int) error {
	if !KnownKind(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.invalidate(kind)
	return nil
}

func (s *Service) invalidate(kind string) {
	s.mu.Lock()
	delete(s.cache, kind)
	s.mu.Unlock()
}

// Start loads every list and schedules a reload every interval. A failed
// initial load is only logged: lists are also loaded on first use.
func (s *Service) Start(ctx context.Context, interval time.Duration) error {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial reference load failed")
	}
	s.scheduler = gocron.NewScheduler(time.Local)
	_, err := s.scheduler.Every(interval).WaitForSchedule().Do(func() {
		if err := s.Refresh(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("failed to refresh reference lists")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reference refresh: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *Service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
