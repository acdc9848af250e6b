package domain

import (
	"context"
	"time"
)

// TopicType enumerates the supported voting schemes.
type TopicType string

const (
	TopicPairwise  TopicType = "Pairwise"
	TopicSetwise   TopicType = "Setwise"
	TopicGroupwise TopicType = "Groupwise"
	TopicPlurality TopicType = "Plurality"
)

// WireName returns the snake_case discriminator used on ballots.
func (t TopicType) WireName() string {
	switch t {
	case TopicPairwise:
		return "pairwise"
	case TopicSetwise:
		return "setwise"
	case TopicGroupwise:
		return "groupwise"
	case TopicPlurality:
		return "plurality"
	}
	return ""
}

// SupportsFinalOrder reports whether final_order results apply to the type.
func (t TopicType) SupportsFinalOrder() bool { return t == TopicPairwise }

// Supports1v1Matrix reports whether 1v1_matrix results apply to the type.
func (t TopicType) Supports1v1Matrix() bool { return t == TopicPairwise }

// AuditCategory classifies the outcome of a manual topic review.
type AuditCategory string

const (
	AuditContentCompliance    AuditCategory = "ContentCompliance"
	AuditPoliticalSensitive   AuditCategory = "PoliticalSensitive"
	AuditInappropriateContent AuditCategory = "InappropriateContent"
	AuditSpam                 AuditCategory = "Spam"
	AuditDuplicate            AuditCategory = "Duplicate"
	AuditTechnicalIssue       AuditCategory = "TechnicalIssue"
	AuditOther                AuditCategory = "Other"
)

// TopicAuditInfo records who reviewed a topic and why.
type TopicAuditInfo struct {
	AuditorID     string        `json:"auditor_id" bson:"auditor_id"`
	AuditorName   string        `json:"auditor_name" bson:"auditor_name"`
	AuditTime     time.Time     `json:"audit_time" bson:"audit_time"`
	AuditReason   string        `json:"audit_reason" bson:"audit_reason"`
	AuditCategory AuditCategory `json:"audit_category" bson:"audit_category"`
}

// Approved reports whether the review outcome clears the topic for use.
// Only content compliance counts as approval; every other category rejects.
func (a TopicAuditInfo) Approved() bool { return a.AuditCategory == AuditContentCompliance }

// Topic lifecycle states.
const (
	TopicWaitingAudit = "WaitingAudit"
	TopicApproved     = "Approved"
	TopicRejected     = "Rejected"
)

// TopicStatus pairs a lifecycle state with the audit that produced it.
type TopicStatus struct {
	State string          `json:"state" bson:"state"`
	Audit *TopicAuditInfo `json:"audit,omitempty" bson:"audit,omitempty"`
}

// Topic is a voting topic with its candidate pool definition.
type Topic struct {
	ID            string      `json:"id" bson:"id"`
	Name          string      `json:"name" bson:"name"`
	Title         string      `json:"title" bson:"title"`
	Description   string      `json:"description" bson:"description"`
	Type          TopicType   `json:"topic_type" bson:"topic_type"`
	CandidatePool PoolExpr    `json:"candidate_pool" bson:"candidate_pool"`
	CreatedAt     time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt     *time.Time  `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
	OpenTime      time.Time   `json:"open_time" bson:"open_time"`
	CloseTime     time.Time   `json:"close_time" bson:"close_time"`
	IsActive      bool        `json:"is_active" bson:"is_active"`
	Status        TopicStatus `json:"status" bson:"status"`
}

// ActiveNow reports whether the topic currently accepts ballots:
// the active flag is set and now falls within [open_time, close_time].
func (t *Topic) ActiveNow() bool {
	now := time.Now().UTC()
	return t.IsActive && !t.OpenTime.After(now) && !t.CloseTime.Before(now)
}

// BallotInfo is the submission metadata common to every ballot variant.
type BallotInfo struct {
	TopicID   string `json:"topic_id" bson:"topic_id"`
	BallotID  string `json:"ballot_id" bson:"ballot_id"`
	IP        string `json:"ip" bson:"ip"`
	UserAgent string `json:"user_agent" bson:"user_agent"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
}

// Ballot is the internally tagged union carried on the wire and in the
// archive. TopicType holds the snake_case discriminator; only the fields
// of the active variant are populated.
type Ballot struct {
	TopicType string     `json:"topic_type" bson:"topic_type"`
	Info      BallotInfo `json:"info" bson:"info"`

	// pairwise
	Win  int32 `json:"win,omitempty" bson:"win,omitempty"`
	Lose int32 `json:"lose,omitempty" bson:"lose,omitempty"`

	// setwise
	LeftSet       []int32 `json:"left_set,omitempty" bson:"left_set,omitempty"`
	RightSet      []int32 `json:"right_set,omitempty" bson:"right_set,omitempty"`
	SelectedLeft  []int32 `json:"selected_left,omitempty" bson:"selected_left,omitempty"`
	SelectedRight []int32 `json:"selected_right,omitempty" bson:"selected_right,omitempty"`

	// groupwise
	LeftGroup     []int32 `json:"left_group,omitempty" bson:"left_group,omitempty"`
	RightGroup    []int32 `json:"right_group,omitempty" bson:"right_group,omitempty"`
	SelectedGroup string  `json:"selected_group,omitempty" bson:"selected_group,omitempty"`

	// plurality
	Candidates []int32 `json:"candidates,omitempty" bson:"candidates,omitempty"`
	Selected   int32   `json:"selected,omitempty" bson:"selected,omitempty"`
}

// StoredBallot is the archived form: the ballot flattened with the vote
// weight that was applied when it was scored.
type StoredBallot struct {
	Ballot     `bson:",inline"`
	Multiplier int32 `json:"multiplier" bson:"multiplier"`
}

// DeadLetterMessage wraps a payload that exhausted its retry budget.
type DeadLetterMessage struct {
	OriginalPayload     string `json:"original_payload" bson:"original_payload"` // base64 encoded
	ErrorMessage        string `json:"error_message" bson:"error_message"`
	RetryCount          int    `json:"retry_count" bson:"retry_count"`
	FirstErrorTimestamp int64  `json:"first_error_timestamp" bson:"first_error_timestamp"`
	LastErrorTimestamp  int64  `json:"last_error_timestamp" bson:"last_error_timestamp"`
	Subject             string `json:"subject" bson:"subject"`
}

// OperatorRate is one time-series sample of an operator's standing.
type OperatorRate struct {
	TS         time.Time `bson:"ts"`
	TopicID    string    `bson:"topic_id"`
	OperatorID int32     `bson:"operator_id"`
	Win        int64     `bson:"win"`
	Lose       int64     `bson:"lose"`
	Rate       float64   `bson:"rate"`
}

// Repositories (ports)

type TopicRepository interface {
	Insert(ctx Context, t Topic) error
	Upsert(ctx Context, t Topic) error
	FindByID(ctx Context, id string) (Topic, error)
	FindAll(ctx Context) ([]Topic, error)
	FindUpdatedSince(ctx Context, since time.Time) ([]Topic, error)
	FindAwaitingAudit(ctx Context) ([]Topic, error)
	SetAuditStatus(ctx Context, id string, status TopicStatus, updatedAt time.Time) error
}

// BallotArchive persists scored ballots, one collection per topic.
type BallotArchive interface {
	InsertBatch(ctx Context, topicID string, ballots []StoredBallot) error
}

type DeadLetterRepository interface {
	Insert(ctx Context, msg DeadLetterMessage) error
}

type OperatorRateRepository interface {
	InsertBatch(ctx Context, rates []OperatorRate) error
}

// Publisher (port) hands payloads to the message stream.
type Publisher interface {
	Publish(ctx Context, subject string, payload []byte) error
}

// Context is an alias to allow decoupling from std context in domain.
type Context = context.Context
