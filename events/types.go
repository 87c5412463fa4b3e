// Package events publishes job-completion notifications to configured
// sinks. Events are fire-and-forget: a sink failure is logged and never
// fails the job that produced it.
//
// Unlike a general message bus client, a sink here is bound to its topic at
// construction time — the worker emits exactly one event shape to exactly
// one destination per sink, so the per-call topic plumbing a CDC pipeline
// needs would be dead weight.
package events

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/cfg"
	"github.com/pairworks/pairworker/encoding"
)

// Event describes one completed job.
type Event struct {
	JobID      string `msgpack:"job_id"`
	JobType    string `msgpack:"job_type"`
	Status     string `msgpack:"status"` // SUCCESS or FAILURE
	WorkerID   string `msgpack:"worker_id"`
	DurationMS int64  `msgpack:"duration_ms"`
	OutputPath string `msgpack:"output_path,omitempty"`
	Error      string `msgpack:"error,omitempty"`
}

// Sink delivers encoded events to one preconfigured destination. The key is
// the job ID; sinks that partition or route use it, others ignore it.
type Sink interface {
	Deliver(key string, payload []byte) error
	Close() error
}

// SinkFactory builds a topic-bound sink from one configuration entry.
type SinkFactory func(conf cfg.SinkConfiguration) (Sink, error)

var sinkFactories = map[string]SinkFactory{}

// RegisterSink registers a sink factory under a type name. Called from
// init() in each sink implementation.
func RegisterSink(name string, factory SinkFactory) {
	sinkFactories[name] = factory
}

// Publisher fans one event out to every configured sink.
type Publisher struct {
	sinks []Sink
}

// NewPublisher builds a sink per configuration entry.
func NewPublisher(configs []cfg.SinkConfiguration) (*Publisher, error) {
	p := &Publisher{}
	for _, conf := range configs {
		factory, ok := sinkFactories[conf.Type]
		if !ok {
			p.Close()
			return nil, fmt.Errorf("unknown sink type %q", conf.Type)
		}
		sink, err := factory(conf)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating %s sink: %w", conf.Type, err)
		}
		p.sinks = append(p.sinks, sink)
	}
	return p, nil
}

// Publish encodes the event once and hands it to every sink. Failures are
// logged per sink; delivery to the remaining sinks continues.
func (p *Publisher) Publish(event Event) {
	if len(p.sinks) == 0 {
		return
	}
	payload, err := encoding.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("job_id", event.JobID).Msg("Failed encoding job event")
		return
	}
	for _, sink := range p.sinks {
		if err := sink.Deliver(event.JobID, payload); err != nil {
			log.Warn().Err(err).Str("job_id", event.JobID).Msg("Failed publishing job event")
		}
	}
}

// Close closes every sink.
func (p *Publisher) Close() {
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed closing event sink")
		}
	}
	p.sinks = nil
}
