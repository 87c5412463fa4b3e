package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/cfg"
)

const fetchWait = 2 * time.Second

// NatsQueue is the JetStream-backed job queue. A pull consumer leases one
// job at a time; a heartbeat goroutine extends the lease (ack wait) while
// the job runs, and MarkJobCompleted acks or naks the message.
type NatsQueue struct {
	nc         *nats.Conn
	consumer   jetstream.Consumer
	visibility time.Duration

	mu       sync.Mutex
	inflight map[string]*leasedJob
}

type leasedJob struct {
	msg           jetstream.Msg
	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}
}

// NewNatsQueue connects to NATS and ensures the job stream and its durable
// work-queue consumer exist.
func NewNatsQueue(conf cfg.QueueConfiguration) (*NatsQueue, error) {
	nc, err := nats.Connect(conf.NatsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	visibility := time.Duration(conf.VisibilityTimeoutSeconds) * time.Second

	// Stream and consumer setup can race a freshly started server; retry
	// briefly instead of failing the whole worker.
	var consumer jetstream.Consumer
	setup := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      conf.StreamName,
			Subjects:  []string{conf.Subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to ensure stream %s: %w", conf.StreamName, err)
		}
		consumer, err = s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:    conf.DurableName,
			AckPolicy:  jetstream.AckExplicitPolicy,
			AckWait:    visibility,
			MaxDeliver: conf.MaxDeliver,
		})
		if err != nil {
			return fmt.Errorf("failed to ensure consumer %s: %w", conf.DurableName, err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(setup, policy); err != nil {
		nc.Close()
		return nil, err
	}

	return &NatsQueue{
		nc:         nc,
		consumer:   consumer,
		visibility: visibility,
		inflight:   make(map[string]*leasedJob),
	}, nil
}

// PrepareNextJob leases the next job and starts its lease heartbeat.
func (q *NatsQueue) PrepareNextJob(ctx context.Context) (*Job, error) {
	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, fmt.Errorf("fetching job: %w", err)
	}

	var msg jetstream.Msg
	for m := range batch.Messages() {
		msg = m
	}
	if err := batch.Error(); err != nil {
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	if msg == nil {
		return nil, ErrNoJob
	}

	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("reading job metadata: %w", err)
	}
	jobID := fmt.Sprintf("%s-%d", meta.Stream, meta.Sequence.Stream)

	lease := &leasedJob{
		msg:           msg,
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	q.mu.Lock()
	q.inflight[jobID] = lease
	q.mu.Unlock()

	go q.extendLease(jobID, lease)

	return &Job{ID: jobID, Body: msg.Data()}, nil
}

// extendLease signals in-progress at half the visibility window so a long
// job is not redelivered to another worker while this one holds it.
func (q *NatsQueue) extendLease(jobID string, lease *leasedJob) {
	defer close(lease.heartbeatDone)
	ticker := time.NewTicker(q.visibility / 2)
	defer ticker.Stop()
	for {
		select {
		case <-lease.stopHeartbeat:
			return
		case <-ticker.C:
			if err := lease.msg.InProgress(); err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Msg("Failed extending job lease")
			}
		}
	}
}

// MarkJobCompleted stops the lease heartbeat and acks (success) or naks
// (failure) the job. A nak re-enqueues up to the consumer's MaxDeliver.
func (q *NatsQueue) MarkJobCompleted(ctx context.Context, jobID string, status CompletionStatus) error {
	q.mu.Lock()
	lease, ok := q.inflight[jobID]
	delete(q.inflight, jobID)
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not in flight", jobID)
	}

	close(lease.stopHeartbeat)
	<-lease.heartbeatDone

	if status == StatusSuccess {
		if err := lease.msg.Ack(); err != nil {
			return fmt.Errorf("acking job %s: %w", jobID, err)
		}
		return nil
	}
	if err := lease.msg.Nak(); err != nil {
		return fmt.Errorf("naking job %s: %w", jobID, err)
	}
	return nil
}

// Close stops all lease heartbeats and closes the connection. In-flight
// jobs are left unacked and will be redelivered.
func (q *NatsQueue) Close() error {
	q.mu.Lock()
	for _, lease := range q.inflight {
		close(lease.stopHeartbeat)
	}
	q.inflight = make(map[string]*leasedJob)
	q.mu.Unlock()

	q.nc.Close()
	return nil
}
