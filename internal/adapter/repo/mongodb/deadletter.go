package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

const deadLetterCollection = "dead_letter_queue"

// DeadLetterRepo stores messages that exhausted their retry budget so
// they can be inspected and replayed by hand.
type DeadLetterRepo struct {
	col *mongo.Collection
}

// NewDeadLetterRepo binds the repository to the DLQ collection.
func NewDeadLetterRepo(db *mongo.Database) *DeadLetterRepo {
	return &DeadLetterRepo{col: db.Collection(deadLetterCollection)}
}

func (r *DeadLetterRepo) Insert(ctx domain.Context, msg domain.DeadLetterMessage) error {
	if _, err := r.col.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("op=mongodb.DeadLetterRepo.Insert subject=%s: %w", msg.Subject, err)
	}
	return nil
}
