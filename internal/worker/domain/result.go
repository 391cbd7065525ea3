package domain

import "time"

// Outcome is the terminal verdict on a message
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeReject
)

func (o Outcome) String() string {
	if o == OutcomeAck {
		return "ack"
	}
	return "nack"
}

// Result is returned by the processor for every message
type Result struct {
	Job      *RecordingJob // nil when decoding failed
	Artifact string        // local path produced by the record stage
	Location string        // where the artifact was uploaded
	Err      error
	Elapsed  time.Duration
}

// Outcome maps the result to an acknowledgment
func (r Result) Outcome() Outcome {
	if r.Err == nil {
		return OutcomeAck
	}
	return OutcomeReject
}
