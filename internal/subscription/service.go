// Package subscription polls followed sources for new items.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vrsandeep/mediaflow/internal/metrics"
	"github.com/vrsandeep/mediaflow/internal/models"
)

const (
	DefaultTick     = time.Minute
	DefaultMaxItems = 15
)

var ErrCheckInProgress = errors.New("source check already in progress")

// SourceStore persists followed sources and what was found for them.
type SourceStore interface {
	GetAllSources() ([]*models.FollowedSource, error)
	GetSourceByID(id int64) (*models.FollowedSource, error)
	KnownItemIDs(sourceID int64) (map[string]struct{}, error)
	SaveDiscoveredItems(sourceID int64, items []models.DiscoveredItem) error
	AdvanceWatermark(sourceID int64, itemID string) error
	MarkSourceChecked(sourceID int64, at time.Time) error
}

// Check states.
const (
	StateNewItems = "new_items"
	StateNoChange = "no_change"
	StateError    = "error"
)

// CheckResult summarises one source check.
type CheckResult struct {
	SourceID  int64                   `json:"source_id"`
	State     string                  `json:"state"`
	NewItems  []models.DiscoveredItem `json:"new_items,omitempty"`
	Watermark string                  `json:"watermark,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

type Options struct {
	Store           SourceStore
	Fetcher         Fetcher
	Sink            models.DiscoverySink
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Tick            time.Duration
	DefaultInterval time.Duration
	MaxItems        int
	Enabled         bool
}

// Service holds the dependencies for the polling loop.
type Service struct {
	store           SourceStore
	fetcher         Fetcher
	sink            models.DiscoverySink
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tick            time.Duration
	defaultInterval time.Duration
	maxItems        int

	mu       sync.Mutex
	enabled  bool
	wake     chan struct{}
	inFlight map[int64]bool

	now func() time.Time
}

// NewService creates a new polling service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	s := &Service{
		store:           opts.Store,
		fetcher:         opts.Fetcher,
		sink:            opts.Sink,
		logger:          logger.With("component", "polling"),
		metrics:         opts.Metrics,
		tick:            tick,
		defaultInterval: opts.DefaultInterval,
		maxItems:        maxItems,
		enabled:         opts.Enabled,
		wake:            make(chan struct{}, 1),
		inFlight:        make(map[int64]bool),
		now:             time.Now,
	}
	s.metrics.SetPollingEnabled(opts.Enabled)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled switches the whole loop on or off. It takes effect between
// ticks; a check already running is not interrupted.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	s.metrics.SetPollingEnabled(enabled)
	s.logger.Info("polling toggled", "enabled", enabled)
	if enabled {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Run is the polling loop. It returns when ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("starting polling loop", "tick", s.tick)
	for {
		if !s.Enabled() {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.tick):
		}

		if !s.Enabled() {
			continue
		}
		s.CheckAll(ctx)
	}
}

// CheckAll checks every due source once. A failing source is logged and
// does not stop the others.
func (s *Service) CheckAll(ctx context.Context) {
	started := time.Now()
	sources, err := s.store.GetAllSources()
	if err != nil {
		s.logger.Error("failed to list sources", "error", err)
		return
	}

	checked := 0
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		if src.Interval <= 0 {
			src.Interval = s.defaultInterval
		}
		if !src.Due(s.now()) {
			continue
		}
		checked++
		if _, err := s.CheckSource(ctx, src); err != nil && !errors.Is(err, ErrCheckInProgress) {
			s.logger.Warn("source check failed", "source_id", src.ID, "name", src.Name, "error", err)
		}
	}
	s.metrics.PollCycle(time.Since(started))
	s.logger.Debug("polling cycle finished", "sources", len(sources), "checked", checked)
}

// CheckNow checks one source regardless of its interval.
func (s *Service) CheckNow(ctx context.Context, sourceID int64) (CheckResult, error) {
	src, err := s.store.GetSourceByID(sourceID)
	if err != nil {
		return CheckResult{SourceID: sourceID, State: StateError, Error: err.Error()}, err
	}
	return s.CheckSource(ctx, src)
}

func (s *Service) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Service) release(id int64) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// CheckSource fetches src, keeps the items that are unknown and pass its
// filter, and records them. Items are persisted before the watermark moves.
func (s *Service) CheckSource(ctx context.Context, src *models.FollowedSource) (CheckResult, error) {
	result := CheckResult{SourceID: src.ID, Watermark: src.LastSeenItemID}
	if !s.claim(src.ID) {
		return result, fmt.Errorf("source %d: %w", src.ID, ErrCheckInProgress)
	}
	defer s.release(src.ID)

	logger := s.logger.With("source_id", src.ID)
	fail := func(err error) (CheckResult, error) {
		result.State = StateError
		result.Error = err.Error()
		s.metrics.SourceChecked(StateError, 0)
		return result, err
	}

	limit := src.Filter.MaxItems
	if limit <= 0 {
		limit = s.maxItems
	}
	fetched, err := s.fetcher.Fetch(ctx, src, fetchWindow(limit))
	if err != nil {
		return fail(fmt.Errorf("fetch %s: %w", src.Locator, err))
	}
	known, err := s.store.KnownItemIDs(src.ID)
	if err != nil {
		return fail(fmt.Errorf("load known items: %w", err))
	}

	filter := NewFilter(src.Filter)
	var fresh []models.DiscoveredItem
	for _, item := range fetched.Items {
		if len(fresh) >= limit {
			break
		}
		if _, seen := known[item.ItemID]; seen {
			continue
		}
		if !filter.Allow(item) {
			logger.Debug("item filtered out", "item_id", item.ItemID, "title", item.Title)
			continue
		}
		fresh = append(fresh, item)
	}

	newest := ""
	if len(fetched.Items) > 0 && fetched.Items[0].ItemID != src.LastSeenItemID {
		newest = fetched.Items[0].ItemID
	}

	if len(fresh) > 0 {
		if err := s.store.SaveDiscoveredItems(src.ID, fresh); err != nil {
			return fail(fmt.Errorf("save discovered items: %w", err))
		}
	}
	if newest != "" {
		if err := s.store.AdvanceWatermark(src.ID, newest); err != nil {
			return fail(fmt.Errorf("advance watermark: %w", err))
		}
		src.LastSeenItemID = newest
		result.Watermark = newest
	}

	checkedAt := s.now()
	if err := s.store.MarkSourceChecked(src.ID, checkedAt); err != nil {
		logger.Warn("failed to record check time", "error", err)
	}
	src.LastCheckedAt = &checkedAt

	if len(fresh) == 0 {
		result.State = StateNoChange
		s.metrics.SourceChecked(StateNoChange, 0)
		logger.Debug("no new items", "name", src.Name)
		return result, nil
	}

	result.State = StateNewItems
	result.NewItems = fresh
	s.metrics.SourceChecked(StateNewItems, len(fresh))
	logger.Info("new items found", "name", src.Name, "count", len(fresh), "watermark", result.Watermark)

	if s.sink != nil {
		s.sink.Discovery(models.DiscoveryEvent{
			SourceID:   src.ID,
			SourceName: src.Name,
			Count:      len(fresh),
			Items:      fresh,
		})
		if src.AutoDownload {
			s.sink.AutoDownload(models.AutoDownloadEvent{
				SourceID:   src.ID,
				SourceName: src.Name,
				Quality:    src.Quality,
				Format:     src.Format,
				FolderPath: src.FolderPath,
				Items:      fresh,
			})
		}
	}
	return result, nil
}

// fetchWindow lists more entries than the per-check cap so that filtered
// and already-known items do not starve the result.
func fetchWindow(limit int) int {
	return limit * 2
}
