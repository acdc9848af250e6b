// Package stream provides the Kafka-backed message plumbing: a
// publisher for the API tier, consumers for the scoring pipeline, and
// the retry ladder that routes poison messages to the dead letter
// subject.
package stream

import "github.com/fairyhunter13/ark-vote/internal/usecase"

// Subjects carried on the stream.
const (
	SubjectSaveScore  = "arkvote.save_score"
	SubjectBallotSkip = usecase.SubjectBallotSkip
	SubjectNewCompare = usecase.SubjectNewCompare
	SubjectDLQ        = "arkvote.dlq"
)
