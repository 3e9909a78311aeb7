package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimestampFormatsAsUTCRFC3339(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.FixedZone("EST", -5*60*60))
	assert.Equal(t, "2026-01-02T20:04:05Z", Timestamp(ts))
}

func TestLoggerMethodsDoNotPanic(t *testing.T) {
	l := New("TEST")
	assert.NotPanics(t, func() {
		l.Printf("plain %s", "line")
		l.Info("info %d", 1)
		l.Success("ok")
		l.Warn("careful")
		l.Error("boom: %v", assert.AnError)
	})
}
