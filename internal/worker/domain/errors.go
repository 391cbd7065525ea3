package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is matched by every PayloadError
var ErrInvalidPayload = errors.New("invalid job payload")

// Processing stages
const (
	StageRecord = "record"
	StageUpload = "upload"
	StageClean  = "clean"
)

// PayloadError reports a message body that cannot be decoded or fails
// validation. It is never requeued.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return "invalid job payload: " + e.Err.Error()
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInvalidPayload) hold for every PayloadError
func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// NewPayloadError creates a new payload error
func NewPayloadError(err error) error {
	return &PayloadError{Err: err}
}

// ProcessingError reports a failed job-logic stage
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError creates a new processing error for stage
func NewProcessingError(stage string, err error) error {
	return &ProcessingError{Stage: stage, Err: err}
}
