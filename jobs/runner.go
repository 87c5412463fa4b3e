package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/events"
	"github.com/pairworks/pairworker/generator"
	"github.com/pairworks/pairworker/matcher"
	"github.com/pairworks/pairworker/telemetry"
)

// How often the idle poll loop says it is still alive.
const idleLogPeriod = 5 * time.Second

// GenerateJobRunner runs generate jobs.
type GenerateJobRunner interface {
	GeneratePublisherList(ctx context.Context, req generator.GeneratePublisherListRequest) error
}

// MatchJobRunner runs match jobs.
type MatchJobRunner interface {
	ExportMatches(ctx context.Context, req matcher.ExportMatchesRequest) error
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	Queue        Queue
	Generator    GenerateJobRunner
	Matcher      MatchJobRunner
	Filter       *PathFilter
	Events       *events.Publisher
	WorkerID     string
	PollInterval time.Duration
}

// Runner polls the queue and dispatches jobs until stopped.
type Runner struct {
	config RunnerConfig

	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool

	startedAt     time.Time
	jobsProcessed *xsync.Counter
	jobsFailed    *xsync.Counter
}

// Stats is the runner's ops-server snapshot.
type Stats struct {
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// NewRunner validates the wiring and builds a runner.
func NewRunner(config RunnerConfig) (*Runner, error) {
	if config.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if config.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if config.Matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	if config.Filter == nil {
		filter, err := NewPathFilter(nil, nil)
		if err != nil {
			return nil, err
		}
		config.Filter = filter
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}

	return &Runner{
		config:        config,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		jobsProcessed: xsync.NewCounter(),
		jobsFailed:    xsync.NewCounter(),
	}, nil
}

// Start launches the poll loop goroutine.
func (r *Runner) Start() {
	if r.running.Swap(true) {
		return
	}
	r.startedAt = time.Now()
	go r.pollLoop()
}

// Stop signals the loop and waits for the in-flight job, if any, to finish.
func (r *Runner) Stop() {
	if !r.running.Swap(false) {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

// Stats returns a snapshot for the admin server.
func (r *Runner) Stats() Stats {
	return Stats{
		JobsProcessed: r.jobsProcessed.Value(),
		JobsFailed:    r.jobsFailed.Value(),
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
	}
}

func (r *Runner) pollLoop() {
	defer close(r.doneCh)
	lastIdleLog := time.Time{}
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		job, err := r.config.Queue.PrepareNextJob(context.Background())
		switch {
		case errors.Is(err, ErrNoJob):
			telemetry.JobPollsTotal.With("empty").Inc()
			if time.Since(lastIdleLog) >= idleLogPeriod {
				log.Debug().Msg("Polling for job")
				lastIdleLog = time.Now()
			}
			r.sleep()
		case err != nil:
			telemetry.JobPollsTotal.With("error").Inc()
			log.Error().Err(err).Msg("PrepareNextJob didn't succeed")
			r.sleep()
		default:
			telemetry.JobPollsTotal.With("job").Inc()
			r.processJob(job)
		}
	}
}

// sleep waits one poll interval, returning early on Stop.
func (r *Runner) sleep() {
	select {
	case <-r.stopCh:
	case <-time.After(r.config.PollInterval):
	}
}

func (r *Runner) processJob(job *Job) {
	log.Info().Str("job_id", job.ID).Msg("Received a job")
	started := time.Now()
	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	pj, runErr := r.runJob(job)

	status := StatusSuccess
	if runErr != nil {
		status = StatusFailure
		log.Error().Err(runErr).Str("job_id", job.ID).Msg("Job failed")
	}

	jobType := "unknown"
	outputPath := ""
	if pj != nil {
		jobType = string(pj.JobType)
		outputPath = pj.outputPathForLog()
	}
	telemetry.JobsTotal.With(jobType, string(status)).Inc()
	telemetry.JobDurationSeconds.With(jobType).Observe(time.Since(started).Seconds())
	r.jobsProcessed.Inc()
	if runErr != nil {
		r.jobsFailed.Inc()
	}

	if err := r.config.Queue.MarkJobCompleted(context.Background(), job.ID, status); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("MarkJobCompleted failed")
	}

	if r.config.Events != nil {
		event := events.Event{
			JobID:      job.ID,
			JobType:    jobType,
			Status:     string(status),
			WorkerID:   r.config.WorkerID,
			DurationMS: time.Since(started).Milliseconds(),
			OutputPath: outputPath,
		}
		if runErr != nil {
			event.Error = runErr.Error()
		}
		r.config.Events.Publish(event)
	}

	log.Info().Str("job_id", job.ID).Str("status", string(status)).Msg("Job completed")
}

// runJob decodes, validates, and dispatches one job. It returns the decoded
// body (when decodable) so completion events can name the job type.
func (r *Runner) runJob(job *Job) (*PairJob, error) {
	pj, err := DecodeJobBody(job.Body)
	if err != nil {
		return nil, err
	}
	applyDefaultNames(pj)
	if err := pj.Validate(); err != nil {
		return pj, err
	}
	if !r.config.Filter.AllowJob(pj) {
		return pj, fmt.Errorf("job %s names a bucket or path outside the allowlist", job.ID)
	}

	switch pj.JobType {
	case JobTypeGeneratePubPairList:
		log.Info().Str("job_id", job.ID).Msg("Processing publisher list generation job")
		err := r.config.Generator.GeneratePublisherList(context.Background(), generator.GeneratePublisherListRequest{
			BucketName:        pj.PublisherInputBucket,
			BlobName:          pj.PublisherUserListBlobPath,
			MetadataName:      pj.PublisherMetadataBlobPath,
			GeneratedListName: pj.PublisherMappingBlobPath,
			Identity:          pj.PublisherIdentity(),
		})
		if err != nil {
			return pj, fmt.Errorf("generating publisher mapping: %w", err)
		}
		log.Info().Str("path", pj.PublisherMappingBlobPath).Msg("Successfully generated publisher mapping")
		return pj, nil

	case JobTypeMatch:
		log.Info().Str("job_id", job.ID).Msg("Processing match job")
		err := r.config.Matcher.ExportMatches(context.Background(), matcher.ExportMatchesRequest{
			PublisherMappingBucket: pj.PublisherInputBucket,
			PublisherMappingPath:   pj.PublisherMappingBlobPath,
			AdvertiserListBucket:   pj.AdvertiserInputBucket,
			AdvertiserListPath:     pj.AdvertiserUserListBlobPath,
			OutputBucket:           pj.MatchOutputBucket,
			MatchedIDsPath:         pj.MatchListBlobPath,
			PublisherIdentity:      pj.PublisherIdentity(),
			AdvertiserIdentity:     pj.AdvertiserIdentity(),
		})
		if err != nil {
			return pj, fmt.Errorf("exporting matches: %w", err)
		}
		log.Info().Str("path", pj.MatchListBlobPath).Msg("Successfully exported matches")
		return pj, nil
	}
	// Validate already rejected unknown types.
	return pj, fmt.Errorf("invalid job type: %q", pj.JobType)
}

func (j *PairJob) outputPathForLog() string {
	if j.JobType == JobTypeMatch {
		return j.MatchOutputBucket + "/" + j.MatchListBlobPath
	}
	return j.PublisherMappingBlobPath
}

// applyDefaultNames fills the output object names jobs may omit.
func applyDefaultNames(j *PairJob) {
	ms := time.Now().UnixMilli()
	if j.JobType == JobTypeGeneratePubPairList && j.PublisherMappingBlobPath == "" {
		j.PublisherMappingBlobPath = fmt.Sprintf("PubXMapping%d.csv", ms)
	}
	if j.JobType == JobTypeMatch && j.MatchListBlobPath == "" {
		j.MatchListBlobPath = fmt.Sprintf("PubXAdvYMatch%d.csv", ms)
	}
}
