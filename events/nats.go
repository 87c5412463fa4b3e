package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pairworks/pairworker/cfg"
)

const natsOpTimeout = 5 * time.Second

func init() {
	RegisterSink("nats", func(conf cfg.SinkConfiguration) (Sink, error) {
		if conf.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(conf.NatsURL, conf.Topic)
	})
}

// NatsSink publishes job events to one JetStream subject. The stream backing
// the subject is created lazily on the first delivery, once per sink
// lifetime; job events are low-volume enough that re-asserting it on every
// publish would be pure overhead.
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string

	ensure    sync.Once
	ensureErr error
}

// NewNatsSink connects to NATS and binds the sink to subject.
func NewNatsSink(url, subject string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("pairworker-events"),
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

	return &NatsSink{nc: nc, js: js, subject: subject}, nil
}

// ensureStream asserts the event stream exists. Runs once; a failure is
// sticky so every later Deliver reports it instead of hammering the server.
func (n *NatsSink) ensureStream() error {
	n.ensure.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), natsOpTimeout)
		defer cancel()

		_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      streamNameFor(n.subject),
			Subjects:  []string{n.subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    24 * time.Hour,
		})
		if err != nil {
			n.ensureErr = fmt.Errorf("failed to ensure event stream for %s: %w", n.subject, err)
		}
	})
	return n.ensureErr
}

// Deliver publishes one event. The job ID rides in a header so consumers can
// route without decoding the payload.
func (n *NatsSink) Deliver(key string, payload []byte) error {
	if err := n.ensureStream(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), natsOpTimeout)
	defer cancel()

	msg := nats.NewMsg(n.subject)
	msg.Data = payload
	msg.Header.Set("Pair-Job-Id", key)
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", n.subject, err)
	}
	return nil
}

// Close closes the NATS connection.
func (n *NatsSink) Close() error {
	n.nc.Close()
	return nil
}

// streamNameFor derives a legal JetStream stream name from a subject:
// uppercase, with every character JetStream rejects folded to underscore.
func streamNameFor(subject string) string {
	var b strings.Builder
	b.Grow(len(subject))
	for _, r := range strings.ToUpper(subject) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
