package mongodb

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

const topicsCollection = "topics"

// TopicsRepo implements domain.TopicRepository on a MongoDB collection.
type TopicsRepo struct {
	col *mongo.Collection
}

// NewTopicsRepo binds the repository to the topics collection.
func NewTopicsRepo(db *mongo.Database) *TopicsRepo {
	return &TopicsRepo{col: db.Collection(topicsCollection)}
}

func (r *TopicsRepo) Insert(ctx domain.Context, t domain.Topic) error {
	if _, err := r.col.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("op=mongodb.TopicsRepo.Insert id=%s: %w", t.ID, err)
	}
	return nil
}

func (r *TopicsRepo) Upsert(ctx domain.Context, t domain.Topic) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.col.ReplaceOne(ctx, bson.M{"id": t.ID}, t, opts); err != nil {
		return fmt.Errorf("op=mongodb.TopicsRepo.Upsert id=%s: %w", t.ID, err)
	}
	return nil
}

func (r *TopicsRepo) FindByID(ctx domain.Context, id string) (domain.Topic, error) {
	var t domain.Topic
	err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	if err != nil {
		return domain.Topic{}, fmt.Errorf("op=mongodb.TopicsRepo.FindByID id=%s: %w", id, err)
	}
	return t, nil
}

func (r *TopicsRepo) FindAll(ctx domain.Context) ([]domain.Topic, error) {
	return r.find(ctx, bson.M{}, "FindAll")
}

// FindUpdatedSince returns topics created or modified after the given
// instant. Topics that have never been updated match on created_at.
func (r *TopicsRepo) FindUpdatedSince(ctx domain.Context, since time.Time) ([]domain.Topic, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"updated_at": bson.M{"$gt": since}},
		bson.M{"created_at": bson.M{"$gt": since}},
	}}
	return r.find(ctx, filter, "FindUpdatedSince")
}

func (r *TopicsRepo) FindAwaitingAudit(ctx domain.Context) ([]domain.Topic, error) {
	return r.find(ctx, bson.M{"status.state": domain.TopicWaitingAudit}, "FindAwaitingAudit")
}

func (r *TopicsRepo) SetAuditStatus(ctx domain.Context, id string, status domain.TopicStatus, updatedAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": updatedAt,
	}}
	res, err := r.col.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("op=mongodb.TopicsRepo.SetAuditStatus id=%s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrTopicNotFound
	}
	return nil
}

func (r *TopicsRepo) find(ctx domain.Context, filter bson.M, op string) ([]domain.Topic, error) {
	cur, err := r.col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("op=mongodb.TopicsRepo.%s: %w", op, err)
	}
	var topics []domain.Topic
	if err := cur.All(ctx, &topics); err != nil {
		return nil, fmt.Errorf("op=mongodb.TopicsRepo.%s decode: %w", op, err)
	}
	return topics, nil
}
