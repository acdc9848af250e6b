package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

// BallotArchive persists scored ballots, one collection per topic so
// hot topics can be sharded or dropped independently.
type BallotArchive struct {
	db *mongo.Database
}

// NewBallotArchive binds the archive to a database.
func NewBallotArchive(db *mongo.Database) *BallotArchive {
	return &BallotArchive{db: db}
}

func ballotCollectionName(topicID string) string {
	return "ballots_" + topicID
}

func (a *BallotArchive) InsertBatch(ctx domain.Context, topicID string, ballots []domain.StoredBallot) error {
	if len(ballots) == 0 {
		return nil
	}
	docs := make([]interface{}, len(ballots))
	for i := range ballots {
		docs[i] = ballots[i]
	}
	opts := options.InsertMany().SetOrdered(false)
	if _, err := a.db.Collection(ballotCollectionName(topicID)).InsertMany(ctx, docs, opts); err != nil {
		return fmt.Errorf("op=mongodb.BallotArchive.InsertBatch topic=%s n=%d: %w", topicID, len(ballots), err)
	}
	return nil
}
