package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairworks/pairworker/cfg"
	"github.com/pairworks/pairworker/encoding"
)

type mockSink struct {
	mu        sync.Mutex
	delivered []mockDelivery
	failWith  error
	closed    bool
}

type mockDelivery struct {
	key     string
	payload []byte
}

func (m *mockSink) Deliver(key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.delivered = append(m.delivered, mockDelivery{key: key, payload: payload})
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestPublisherDeliversToAllSinks(t *testing.T) {
	a := &mockSink{}
	b := &mockSink{}
	p := &Publisher{sinks: []Sink{a, b}}

	p.Publish(Event{JobID: "job-1", JobType: "MATCH", Status: "SUCCESS"})

	require.Len(t, a.delivered, 1)
	require.Len(t, b.delivered, 1)
	assert.Equal(t, "job-1", a.delivered[0].key)

	var decoded Event
	require.NoError(t, encoding.Unmarshal(a.delivered[0].payload, &decoded))
	assert.Equal(t, "MATCH", decoded.JobType)
	assert.Equal(t, "SUCCESS", decoded.Status)
}

func TestPublisherContinuesPastFailingSink(t *testing.T) {
	bad := &mockSink{failWith: errors.New("broker down")}
	good := &mockSink{}
	p := &Publisher{sinks: []Sink{bad, good}}

	p.Publish(Event{JobID: "job-2", Status: "FAILURE"})
	assert.Len(t, good.delivered, 1)
}

func TestPublisherCloseClosesSinks(t *testing.T) {
	s := &mockSink{}
	p := &Publisher{sinks: []Sink{s}}
	p.Close()
	assert.True(t, s.closed)
	// Publishing after Close is a no-op, not a panic.
	p.Publish(Event{JobID: "job-3"})
	assert.Empty(t, s.delivered)
}

func TestNewPublisherUnknownSinkType(t *testing.T) {
	_, err := NewPublisher([]cfg.SinkConfiguration{{Type: "carrier-pigeon", Topic: "t"}})
	assert.Error(t, err)
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(nil, "pair.events")
	assert.Error(t, err)
}

func TestStreamNameFor(t *testing.T) {
	assert.Equal(t, "PAIR_EVENTS", streamNameFor("pair.events"))
	assert.Equal(t, "PAIR_COMPLETED-JOBS", streamNameFor("pair.completed-jobs"))
	assert.Equal(t, "PAIR__", streamNameFor("pair.*"))
}
