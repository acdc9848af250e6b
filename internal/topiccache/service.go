package topiccache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

const refreshInterval = time.Second

// Service fronts the topic repository with the cache and owns the
// background refresh loop.
type Service struct {
	repo    domain.TopicRepository
	catalog []domain.CharacterInfo
	byID    map[int32]domain.CharacterInfo
	lg      *slog.Logger

	cache *cache

	// refreshLock serializes cache-miss reads against full refreshes.
	refreshLock sync.RWMutex

	refreshMu       sync.Mutex
	lastFullRefresh time.Time
}

// NewService builds the service; call Start to launch the refresh loop.
func NewService(repo domain.TopicRepository, catalog []domain.CharacterInfo, lg *slog.Logger) *Service {
	byID := make(map[int32]domain.CharacterInfo, len(catalog))
	for i := range catalog {
		byID[catalog[i].ID] = catalog[i]
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		byID:    byID,
		lg:      lg,
		cache:   newCache(),
	}
}

// Start warms the cache and refreshes it every second until ctx ends.
// Incremental updates pull only topics changed since the last full
// load; an incremental failure falls back to a full reload.
func (s *Service) Start(ctx context.Context) {
	if err := s.fullRefresh(ctx); err != nil {
		s.lg.Error("topic cache warm-up failed", slog.Any("error", err))
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.incrementalRefresh(ctx); err != nil {
					s.lg.Error("incremental topic refresh failed", slog.Any("error", err))
					if err := s.fullRefresh(ctx); err != nil {
						s.lg.Error("full topic refresh failed", slog.Any("error", err))
					}
				}
			}
		}
	}()
}

func (s *Service) fullRefresh(ctx context.Context) error {
	s.refreshLock.Lock()
	defer s.refreshLock.Unlock()

	topics, err := s.repo.FindAll(ctx)
	if err != nil {
		return err
	}
	n := s.cache.insertBatch(topics)
	s.setLastFullRefresh(time.Now().UTC())
	s.lg.Debug("topic cache refreshed", slog.Int("updated", n))
	return nil
}

func (s *Service) incrementalRefresh(ctx context.Context) error {
	topics, err := s.repo.FindUpdatedSince(ctx, s.getLastFullRefresh())
	if err != nil {
		return err
	}
	if n := s.cache.insertBatch(topics); n > 0 {
		s.lg.Debug("incremental topic refresh", slog.Int("updated", n))
	}
	return nil
}

func (s *Service) setLastFullRefresh(t time.Time) {
	s.refreshMu.Lock()
	s.lastFullRefresh = t
	s.refreshMu.Unlock()
}

func (s *Service) getLastFullRefresh() time.Time {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.lastFullRefresh
}

// Get returns the topic from cache, falling back to the repository on
// a miss and caching the result.
func (s *Service) Get(ctx context.Context, topicID string) (domain.Topic, error) {
	if t, ok := s.cache.get(topicID); ok {
		return t, nil
	}

	s.refreshLock.RLock()
	defer s.refreshLock.RUnlock()

	t, err := s.repo.FindByID(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	s.cache.insert(t)
	return t, nil
}

// CandidatePool materializes and memoizes the topic's candidate pool.
// Only non-empty pools are cached so a topic fixed later recovers.
func (s *Service) CandidatePool(ctx context.Context, topicID string) ([]int32, error) {
	if pool := s.cache.getPool(topicID); len(pool) > 0 {
		return pool, nil
	}

	t, err := s.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	pool := t.CandidatePool.GeneratePool(s.catalog)
	if len(pool) > 0 {
		s.cache.setPool(topicID, pool)
	}
	return pool, nil
}

// ActiveTopicIDs lists cached topics with the active flag set. Time
// windows are not consulted here; callers check ActiveNow themselves.
func (s *Service) ActiveTopicIDs() []string {
	return s.cache.activeTopicIDs()
}

// IsTopicActive reports whether the topic currently accepts ballots.
func (s *Service) IsTopicActive(ctx context.Context, topicID string) bool {
	t, err := s.Get(ctx, topicID)
	if err != nil {
		return false
	}
	return t.ActiveNow()
}

// Create inserts a new topic. The cache picks it up on the next
// refresh or miss.
func (s *Service) Create(ctx context.Context, t domain.Topic) error {
	return s.repo.Insert(ctx, t)
}

// Upsert replaces a topic and refreshes the cached copy.
func (s *Service) Upsert(ctx context.Context, t domain.Topic) error {
	if err := s.repo.Upsert(ctx, t); err != nil {
		return err
	}
	s.cache.insert(t)
	return nil
}

// AwaitingAudit lists topics still waiting for review, straight from
// the repository so reviewers never see a stale queue.
func (s *Service) AwaitingAudit(ctx context.Context) ([]domain.Topic, error) {
	return s.repo.FindAwaitingAudit(ctx)
}

// Audit applies a review outcome: content compliance approves, every
// other category rejects. The stored topic is re-read and recached.
func (s *Service) Audit(ctx context.Context, topicID string, info domain.TopicAuditInfo) (domain.Topic, error) {
	state := domain.TopicRejected
	if info.Approved() {
		state = domain.TopicApproved
	}
	status := domain.TopicStatus{State: state, Audit: &info}

	if err := s.repo.SetAuditStatus(ctx, topicID, status, time.Now().UTC()); err != nil {
		return domain.Topic{}, err
	}

	t, err := s.repo.FindByID(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	s.cache.insert(t)
	return t, nil
}

// Portrait returns the public view of one catalog entry, if known.
func (s *Service) Portrait(id int32) (domain.CharacterPortrait, bool) {
	c, ok := s.byID[id]
	if !ok {
		return domain.CharacterPortrait{}, false
	}
	return domain.CharacterPortrait{
		ID:         c.ID,
		Name:       c.Name,
		Rarity:     c.Rarity,
		Profession: c.Profession,
	}, true
}

// OperatorName resolves a catalog id to its display name.
func (s *Service) OperatorName(id int32) (string, bool) {
	c, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return c.Name, true
}
