package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

// SaveScoreHandler scores ballots arriving over the stream instead of
// the in-process HTTP path. Each ballot is validated against its
// challenge key before it counts.
type SaveScoreHandler struct {
	store         *redisstore.Store
	archive       domain.BallotArchive
	lowMultiplier int32
	lg            *slog.Logger
}

// NewSaveScoreHandler constructs a SaveScoreHandler.
func NewSaveScoreHandler(store *redisstore.Store, archive domain.BallotArchive, lowMultiplier int32, lg *slog.Logger) *SaveScoreHandler {
	return &SaveScoreHandler{store: store, archive: archive, lowMultiplier: lowMultiplier, lg: lg}
}

// Subject implements BatchHandler.
func (h *SaveScoreHandler) Subject() string { return SubjectSaveScore }

type scoredBallot struct {
	idx    int
	ballot domain.Ballot
}

// HandleBatch implements BatchHandler. Malformed or unverifiable
// ballots are dropped; only infrastructure failures are retried.
func (h *SaveScoreHandler) HandleBatch(ctx context.Context, recs []*kgo.Record) []error {
	errs := make([]error, len(recs))

	var pairwise []scoredBallot
	var flat []scoredBallot
	for i, rec := range recs {
		var b domain.Ballot
		if err := json.Unmarshal(rec.Value, &b); err != nil {
			h.lg.Warn("dropping undecodable ballot", slog.Any("error", err))
			continue
		}
		if b.TopicType == domain.TopicPairwise.WireName() {
			pairwise = append(pairwise, scoredBallot{idx: i, ballot: b})
		} else {
			flat = append(flat, scoredBallot{idx: i, ballot: b})
		}
	}

	if err := h.processPairwise(ctx, pairwise); err != nil {
		for _, sb := range pairwise {
			errs[sb.idx] = err
		}
	}
	h.archiveFlat(ctx, flat, errs)
	return errs
}

func (h *SaveScoreHandler) processPairwise(ctx context.Context, batch []scoredBallot) error {
	if len(batch) == 0 {
		return nil
	}

	keys := make([]string, len(batch))
	for i, sb := range batch {
		keys[i] = redisstore.BallotKey(sb.ballot.Info.TopicID, sb.ballot.Info.BallotID)
	}
	challenges, err := h.store.GetDelMany(ctx, keys)
	if err != nil {
		return fmt.Errorf("op=stream.SaveScore getdel: %w", err)
	}

	var valid []scoredBallot
	for i, sb := range batch {
		if challenges[i] == "" {
			h.lg.Warn("dropping ballot without challenge",
				slog.String("topic_id", sb.ballot.Info.TopicID),
				slog.String("ballot_id", sb.ballot.Info.BallotID))
			continue
		}
		left, right, err := usecase.ParseChallengePair(challenges[i])
		if err != nil {
			h.lg.Warn("dropping ballot with malformed challenge",
				slog.String("ballot_id", sb.ballot.Info.BallotID))
			continue
		}
		win, lose := sb.ballot.Win, sb.ballot.Lose
		if win == lose || !pairHas(left, right, win) || !pairHas(left, right, lose) {
			h.lg.Warn("dropping ballot outside its challenge pair",
				slog.String("ballot_id", sb.ballot.Info.BallotID))
			continue
		}
		valid = append(valid, sb)
	}
	if len(valid) == 0 {
		return nil
	}

	multipliers, err := h.ipMultipliers(ctx, valid)
	if err != nil {
		return err
	}

	// Multipliers collapse per (topic, win, lose) so one script call
	// covers repeated votes for the same pair.
	type voteKey struct {
		topicID   string
		win, lose int32
	}
	summed := make(map[voteKey]int32)
	order := make([]voteKey, 0, len(valid))
	pairs := make([]redisstore.MatchPair, 0, len(valid))
	archived := make(map[string][]domain.StoredBallot)
	for i, sb := range valid {
		k := voteKey{topicID: sb.ballot.Info.TopicID, win: sb.ballot.Win, lose: sb.ballot.Lose}
		if _, seen := summed[k]; !seen {
			order = append(order, k)
		}
		summed[k] += multipliers[i]
		pairs = append(pairs, redisstore.MatchPair{TopicID: k.topicID, A: sb.ballot.Win, B: sb.ballot.Lose})
		archived[k.topicID] = append(archived[k.topicID], domain.StoredBallot{Ballot: sb.ballot, Multiplier: multipliers[i]})
	}

	updates := make([]redisstore.ScoreUpdate, 0, len(order))
	for _, k := range order {
		updates = append(updates, redisstore.ScoreUpdate{
			TopicID:    k.topicID,
			Win:        k.win,
			Lose:       k.lose,
			Multiplier: summed[k],
		})
	}
	if err := h.store.BatchScoreUpdate(ctx, updates); err != nil {
		return fmt.Errorf("op=stream.SaveScore score: %w", err)
	}
	if err := h.store.BatchRecord1v1(ctx, pairs); err != nil {
		return fmt.Errorf("op=stream.SaveScore record1v1: %w", err)
	}
	for topicID, ballots := range archived {
		if err := h.archive.InsertBatch(ctx, topicID, ballots); err != nil {
			return fmt.Errorf("op=stream.SaveScore archive: %w", err)
		}
	}
	return nil
}

// ipMultipliers rates each ballot by its source IP's vote count, one
// multiplier per ballot aligned with the input.
func (h *SaveScoreHandler) ipMultipliers(ctx context.Context, valid []scoredBallot) ([]int32, error) {
	keys := make([]string, len(valid))
	for i, sb := range valid {
		keys[i] = redisstore.IPCounterKey(sb.ballot.Info.TopicID, sb.ballot.Info.IP)
	}
	raw, err := h.store.BatchIPMultipliers(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("op=stream.SaveScore multipliers: %w", err)
	}
	out := make([]int32, len(valid))
	for i := range valid {
		if i < len(raw) {
			out[i] = int32(raw[i])
		} else {
			out[i] = h.lowMultiplier
		}
	}
	return out, nil
}

func (h *SaveScoreHandler) archiveFlat(ctx context.Context, flat []scoredBallot, errs []error) {
	byTopic := make(map[string][]domain.StoredBallot)
	idxByTopic := make(map[string][]int)
	for _, sb := range flat {
		topicID := sb.ballot.Info.TopicID
		byTopic[topicID] = append(byTopic[topicID], domain.StoredBallot{Ballot: sb.ballot, Multiplier: 1})
		idxByTopic[topicID] = append(idxByTopic[topicID], sb.idx)
	}
	for topicID, ballots := range byTopic {
		if err := h.archive.InsertBatch(ctx, topicID, ballots); err != nil {
			for _, idx := range idxByTopic[topicID] {
				errs[idx] = fmt.Errorf("op=stream.SaveScore archive: %w", err)
			}
		}
	}
}

func pairHas(left, right, id int32) bool {
	return id == left || id == right
}
