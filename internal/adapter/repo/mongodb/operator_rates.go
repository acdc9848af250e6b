package mongodb

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

const operatorRatesCollection = "operator_rates"

// OperatorRatesRepo appends per-second win rate samples to a
// time-series collection.
type OperatorRatesRepo struct {
	col *mongo.Collection
}

// NewOperatorRatesRepo ensures the time-series collection exists and
// binds the repository to it. Creation errors are tolerated when the
// collection is already there.
func NewOperatorRatesRepo(ctx domain.Context, db *mongo.Database) (*OperatorRatesRepo, error) {
	tsOpts := options.TimeSeries().
		SetTimeField("ts").
		SetMetaField("operator_id").
		SetGranularity("seconds")
	err := db.CreateCollection(ctx, operatorRatesCollection, options.CreateCollection().SetTimeSeriesOptions(tsOpts))
	if err != nil {
		var cmdErr mongo.CommandError
		// 48 = NamespaceExists
		if !errors.As(err, &cmdErr) || cmdErr.Code != 48 {
			return nil, fmt.Errorf("op=mongodb.NewOperatorRatesRepo create: %w", err)
		}
	}
	return &OperatorRatesRepo{col: db.Collection(operatorRatesCollection)}, nil
}

func (r *OperatorRatesRepo) InsertBatch(ctx domain.Context, rates []domain.OperatorRate) error {
	if len(rates) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rates))
	for i := range rates {
		docs[i] = rates[i]
	}
	if _, err := r.col.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("op=mongodb.OperatorRatesRepo.InsertBatch n=%d: %w", len(rates), err)
	}
	return nil
}
