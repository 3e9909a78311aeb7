package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func freshRegistry() {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
}

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotNil(t, c.tasksSubmitted)
	assert.NotNil(t, c.tasksCompleted)
	assert.NotNil(t, c.tasksFailed)
	assert.NotNil(t, c.tasksDeadLetter)
	assert.NotNil(t, c.tasksRetried)
	assert.NotNil(t, c.readyQueueDepth)
	assert.NotNil(t, c.deadLetterDepth)
	assert.NotNil(t, c.workersIdle)
	assert.NotNil(t, c.workersBusy)
}

func TestRecordMethodsDoNotPanic(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotPanics(t, func() {
		c.RecordSubmitted()
		c.RecordCompleted()
		c.RecordFailed()
		c.RecordDeadLetter()
		c.RecordRetried()
		c.SetQueueDepths(3, 1)
		c.SetWorkerCounts(2, 5)
	})
}

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordSubmitted()
		c.RecordCompleted()
		c.RecordFailed()
		c.RecordDeadLetter()
		c.RecordRetried()
		c.SetQueueDepths(1, 1)
		c.SetWorkerCounts(1, 1)
	}, "a nil *Collector must behave as a no-op collaborator")
}

func TestHandlerReturnsNonNilHandler(t *testing.T) {
	assert.NotNil(t, Handler())
}
