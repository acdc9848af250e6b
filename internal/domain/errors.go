package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrTopicNotFound         = errors.New("topic not found")
	ErrTopicNotActive        = errors.New("topic not active")
	ErrBallotNotFound        = errors.New("ballot not found")
	ErrInvalidBallotCode     = errors.New("invalid ballot code")
	ErrInvalidBallotFormat   = errors.New("invalid ballot format")
	ErrInvalidParticipants   = errors.New("invalid ballot participants")
	ErrWinnerIsLoser         = errors.New("winner and loser cannot be the same")
	ErrInsufficientOperators = errors.New("insufficient operators available for comparison")
	ErrTypeMismatch          = errors.New("request topic type mismatch")
	ErrUnsupportedTopicType  = errors.New("unsupported topic type")
	ErrForbidden             = errors.New("endpoint forbidden")
	ErrQueueFull             = errors.New("ballot queue full")
	ErrInternal              = errors.New("internal error")
)

// NeedsDLQ reports whether a processing failure warrants dead-lettering.
// Invalid client input is acknowledged and dropped instead of retried;
// everything else (store outages, encoding bugs) must be preserved.
func NeedsDLQ(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidBallotCode),
		errors.Is(err, ErrInvalidBallotFormat),
		errors.Is(err, ErrInvalidParticipants):
		return false
	}
	return err != nil
}
