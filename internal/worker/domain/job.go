package domain

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// MaxDurationSeconds is the longest duration that fits in a time.Duration
const MaxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

// RecordingJob is the payload of a queued message
type RecordingJob struct {
	URL      string `json:"url" validate:"required,http_url"`
	Duration int    `json:"duration" validate:"required,gt=0,lte=9223372036"` // seconds, at most MaxDurationSeconds
}

// Validate checks the payload fields
func (j *RecordingJob) Validate() error {
	return validate.Struct(j)
}

// DurationBound returns the recording duration
func (j *RecordingJob) DurationBound() time.Duration {
	return time.Duration(j.Duration) * time.Second
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	DeliveryTag uint64
	Redelivered bool
	Body        []byte
}
