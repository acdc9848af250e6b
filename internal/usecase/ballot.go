// Package usecase contains application business logic services.
package usecase

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/aggregator"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/snowflake"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
)

const ballotCodeRandomLength = 8

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SubjectBallotSkip is where skip notifications are published.
const SubjectBallotSkip = "arkvote.ballot_skip"

// SubjectNewCompare carries compare requests: recycled ballot ids from
// the edge and bulk mint requests from load generators.
const SubjectNewCompare = "arkvote.new_compare_request"

// BallotService issues pairwise challenges and accepts the completed
// ballots.
type BallotService struct {
	Topics *topiccache.Service
	Store  *redisstore.Store
	Agg    *aggregator.Aggregator
	Pub    domain.Publisher
	Gen    *snowflake.Generator
	TTL    time.Duration
}

// NewBallotService constructs a BallotService with its dependencies.
func NewBallotService(topics *topiccache.Service, store *redisstore.Store, agg *aggregator.Aggregator, pub domain.Publisher, gen *snowflake.Generator, ttl time.Duration) BallotService {
	return BallotService{Topics: topics, Store: store, Agg: agg, Pub: pub, Gen: gen, TTL: ttl}
}

// PairwiseChallenge is an issued ballot: two operators to compare and
// the id the client must return with its pick.
type PairwiseChallenge struct {
	TopicID  string `json:"topic_id"`
	BallotID string `json:"ballot_id"`
	Left     int32  `json:"left"`
	Right    int32  `json:"right"`
}

// SaveBallotInput is the completed ballot as the client reports it.
type SaveBallotInput struct {
	TopicID   string
	BallotID  string
	TopicType string
	Winner    int32
	Loser     int32
	IP        string
	UserAgent string
}

// Create issues a new pairwise challenge: two distinct operators drawn
// uniformly from the topic's candidate pool.
func (s BallotService) Create(ctx domain.Context, topicID string) (PairwiseChallenge, error) {
	topic, err := s.Topics.Get(ctx, topicID)
	if err != nil {
		return PairwiseChallenge{}, err
	}
	if !topic.ActiveNow() {
		return PairwiseChallenge{}, domain.ErrTopicNotActive
	}
	if topic.Type != domain.TopicPairwise {
		return PairwiseChallenge{}, domain.ErrUnsupportedTopicType
	}

	pool, err := s.Topics.CandidatePool(ctx, topicID)
	if err != nil {
		return PairwiseChallenge{}, err
	}
	if len(pool) == 0 {
		return PairwiseChallenge{}, domain.ErrTopicNotFound
	}
	left, right, err := selectOperators(pool)
	if err != nil {
		return PairwiseChallenge{}, err
	}

	ballotID := fmt.Sprintf("%d-%s", s.Gen.Next(), randomString(ballotCodeRandomLength))
	pair := fmt.Sprintf("%d,%d", left, right)
	if err := s.Store.SetBallotChallenge(ctx, topicID, ballotID, pair, s.TTL); err != nil {
		return PairwiseChallenge{}, err
	}

	return PairwiseChallenge{
		TopicID:  topicID,
		BallotID: ballotID,
		Left:     left,
		Right:    right,
	}, nil
}

// Save validates a completed ballot against its challenge and hands it
// to the aggregator.
func (s BallotService) Save(ctx domain.Context, in SaveBallotInput) error {
	topic, err := s.Topics.Get(ctx, in.TopicID)
	if err != nil {
		return err
	}
	if in.TopicType != "" && in.TopicType != topic.Type.WireName() {
		return domain.ErrTypeMismatch
	}
	if topic.Type != domain.TopicPairwise {
		return domain.ErrTypeMismatch
	}
	if !topic.ActiveNow() {
		return domain.ErrTopicNotActive
	}

	pair, err := s.Store.GetDelBallotChallenge(ctx, in.TopicID, in.BallotID)
	if err != nil {
		return err
	}

	if in.Winner == in.Loser {
		return domain.ErrWinnerIsLoser
	}
	left, right, err := ParseChallengePair(pair)
	if err != nil {
		return domain.ErrInvalidBallotFormat
	}
	if !pairContains(left, right, in.Winner) || !pairContains(left, right, in.Loser) {
		return domain.ErrInvalidBallotCode
	}

	ballot := domain.Ballot{
		TopicType: domain.TopicPairwise.WireName(),
		Info: domain.BallotInfo{
			TopicID:   in.TopicID,
			BallotID:  in.BallotID,
			IP:        in.IP,
			UserAgent: in.UserAgent,
			Timestamp: time.Now().UnixMilli(),
		},
		Win:  in.Winner,
		Lose: in.Loser,
	}
	return s.Agg.Submit(ballot)
}

// Skip releases an unused challenge by notifying the stream; the
// consumer deletes the challenge keys in batches.
func (s BallotService) Skip(ctx domain.Context, topicID, ballotID string) error {
	topic, err := s.Topics.Get(ctx, topicID)
	if err != nil {
		return err
	}
	if !topic.ActiveNow() {
		return domain.ErrTopicNotActive
	}

	payload, err := json.Marshal(SkipMessage{TopicID: topicID, BallotID: ballotID})
	if err != nil {
		return fmt.Errorf("op=usecase.Skip marshal: %w", err)
	}
	return s.Pub.Publish(ctx, SubjectBallotSkip, payload)
}

// SkipMessage is the wire form of a skip notification.
type SkipMessage struct {
	TopicID  string `json:"topic_id"`
	BallotID string `json:"ballot_id"`
}

// NewCompareMessage is the wire form of a compare request. A set
// BallotID marks a stale challenge to reclaim; Count asks for that
// many fresh challenges to be minted.
type NewCompareMessage struct {
	TopicID  string `json:"topic_id"`
	BallotID string `json:"ballot_id"`
	Count    int    `json:"count,omitempty"`
}

// Recycle reports a challenge the client abandoned while asking for a
// replacement; the consumer reclaims the stale key in batches.
func (s BallotService) Recycle(ctx domain.Context, topicID, ballotID string) error {
	payload, err := json.Marshal(NewCompareMessage{TopicID: topicID, BallotID: ballotID})
	if err != nil {
		return fmt.Errorf("op=usecase.Recycle marshal: %w", err)
	}
	return s.Pub.Publish(ctx, SubjectNewCompare, payload)
}

// ParseChallengePair decodes the stored "left,right" challenge value.
func ParseChallengePair(pair string) (int32, int32, error) {
	parts := strings.SplitN(pair, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed challenge value %q", pair)
	}
	left, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed challenge value %q", pair)
	}
	right, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed challenge value %q", pair)
	}
	return int32(left), int32(right), nil
}

func pairContains(left, right, id int32) bool {
	return id == left || id == right
}

func selectOperators(pool []int32) (int32, int32, error) {
	if len(pool) < 2 {
		return 0, 0, domain.ErrInsufficientOperators
	}
	i := rand.IntN(len(pool))
	j := rand.IntN(len(pool) - 1)
	if j >= i {
		j++
	}
	return pool[i], pool[j], nil
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alnum[rand.IntN(len(alnum))]
	}
	return string(b)
}
