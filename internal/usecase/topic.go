package usecase

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
)

// TopicService exposes topic lifecycle operations over the cache.
type TopicService struct {
	Topics *topiccache.Service
}

// NewTopicService constructs a TopicService.
func NewTopicService(topics *topiccache.Service) TopicService {
	return TopicService{Topics: topics}
}

// TopicCreateInput is the caller-supplied part of a new topic.
type TopicCreateInput struct {
	ID            string
	Name          string
	Title         string
	Description   string
	Type          domain.TopicType
	CandidatePool domain.PoolExpr
	OpenTime      time.Time
	CloseTime     time.Time
}

// Create registers a topic. It starts inactive and waits for audit;
// an empty id gets a generated one.
func (s TopicService) Create(ctx domain.Context, in TopicCreateInput) (domain.Topic, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Topic{
		ID:            id,
		Name:          in.Name,
		Title:         in.Title,
		Description:   in.Description,
		Type:          in.Type,
		CandidatePool: in.CandidatePool,
		CreatedAt:     time.Now().UTC(),
		OpenTime:      in.OpenTime,
		CloseTime:     in.CloseTime,
		IsActive:      false,
		Status:        domain.TopicStatus{State: domain.TopicWaitingAudit},
	}
	if err := s.Topics.Create(ctx, t); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

// Info returns the topic, from cache when possible.
func (s TopicService) Info(ctx domain.Context, topicID string) (domain.Topic, error) {
	return s.Topics.Get(ctx, topicID)
}

// CandidatePool materializes the topic's pool as public portraits,
// sorted by operator id.
func (s TopicService) CandidatePool(ctx domain.Context, topicID string) ([]domain.CharacterPortrait, error) {
	pool, err := s.Topics.CandidatePool(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, domain.ErrTopicNotFound
	}
	portraits := make([]domain.CharacterPortrait, 0, len(pool))
	for _, id := range pool {
		if p, ok := s.Topics.Portrait(id); ok {
			portraits = append(portraits, p)
		}
	}
	sort.Slice(portraits, func(i, j int) bool { return portraits[i].ID < portraits[j].ID })
	return portraits, nil
}

// ListActive lists topic ids with the active flag set.
func (s TopicService) ListActive() []string {
	return s.Topics.ActiveTopicIDs()
}

// NeedAudit lists topics still waiting for review.
func (s TopicService) NeedAudit(ctx domain.Context) ([]domain.Topic, error) {
	return s.Topics.AwaitingAudit(ctx)
}

// Audit applies a review outcome to a topic.
func (s TopicService) Audit(ctx domain.Context, topicID string, info domain.TopicAuditInfo) (domain.Topic, error) {
	return s.Topics.Audit(ctx, topicID, info)
}
