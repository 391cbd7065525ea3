package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/stream-recorder/internal/metrics"
	"github.com/cuongbtq/stream-recorder/internal/worker/domain"
)

// Recorder produces a local artifact from url within duration
type Recorder interface {
	Record(ctx context.Context, url string, duration time.Duration) (string, error)
}

// Uploader transfers an artifact to the destination store and returns its location
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Cleaner removes a local artifact
type Cleaner interface {
	Clean(ctx context.Context, path string) error
}

// ProcessorConfig holds processor dependencies
type ProcessorConfig struct {
	Logger      *slog.Logger
	Recorder    Recorder
	Uploader    Uploader
	Cleaner     Cleaner
	Metrics     *metrics.Metrics
	MaxDuration time.Duration
	GracePeriod time.Duration // added to the job duration for upload and clean
}

// Processor runs decode, record, upload and clean for one message
type Processor struct {
	logger      *slog.Logger
	recorder    Recorder
	uploader    Uploader
	cleaner     Cleaner
	metrics     *metrics.Metrics
	maxDuration time.Duration
	gracePeriod time.Duration
}

// NewProcessor creates a new processor
func NewProcessor(cfg *ProcessorConfig) *Processor {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Processor{
		logger:      cfg.Logger,
		recorder:    cfg.Recorder,
		uploader:    cfg.Uploader,
		cleaner:     cfg.Cleaner,
		metrics:     m,
		maxDuration: cfg.MaxDuration,
		gracePeriod: cfg.GracePeriod,
	}
}

// Process never panics: every failure, including a panic in a stage, is
// returned in Result.Err.
func (p *Processor) Process(ctx context.Context, msg *domain.JobMessage) (result domain.Result) {
	start := time.Now()
	stage := "decode"

	defer func() {
		if r := recover(); r != nil {
			result.Err = domain.NewProcessingError(stage, fmt.Errorf("panic: %v", r))
		}
		result.Elapsed = time.Since(start)
	}()

	job, err := p.decode(msg.Body)
	if err != nil {
		result.Err = err
		return result
	}
	result.Job = job

	p.logger.Info("Processing job",
		slog.Uint64("delivery_tag", msg.DeliveryTag),
		slog.String("url", job.URL),
		slog.Int("duration", job.Duration),
	)

	jobCtx, cancel := context.WithTimeout(ctx, job.DurationBound()+p.gracePeriod)
	defer cancel()

	stage = domain.StageRecord
	stageStart := time.Now()
	path, err := p.recorder.Record(jobCtx, job.URL, job.DurationBound())
	p.metrics.ObserveStage(stage, time.Since(stageStart))
	if err != nil {
		result.Err = domain.NewProcessingError(stage, err)
		return result
	}
	result.Artifact = path

	stage = domain.StageUpload
	stageStart = time.Now()
	location, err := p.uploader.Upload(jobCtx, path)
	p.metrics.ObserveStage(stage, time.Since(stageStart))
	if err != nil {
		result.Err = domain.NewProcessingError(stage, err)
		p.discard(jobCtx, path)
		return result
	}
	result.Location = location

	stage = domain.StageClean
	stageStart = time.Now()
	err = p.cleaner.Clean(jobCtx, path)
	p.metrics.ObserveStage(stage, time.Since(stageStart))
	if err != nil {
		result.Err = domain.NewProcessingError(stage, err)
		return result
	}

	return result
}

// decode parses and validates the message body
func (p *Processor) decode(body []byte) (*domain.RecordingJob, error) {
	var job domain.RecordingJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, domain.NewPayloadError(err)
	}

	if err := job.Validate(); err != nil {
		return nil, domain.NewPayloadError(err)
	}

	// compare in seconds so an oversized value cannot wrap the conversion
	if p.maxDuration > 0 && int64(job.Duration) > int64(p.maxDuration/time.Second) {
		return nil, domain.NewPayloadError(fmt.Errorf("duration %ds exceeds maximum %s", job.Duration, p.maxDuration))
	}

	return &job, nil
}

// discard removes an artifact whose upload failed so a redelivery starts clean
func (p *Processor) discard(ctx context.Context, path string) {
	if err := p.cleaner.Clean(ctx, path); err != nil {
		p.logger.Warn("Failed to remove artifact after upload failure",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}
