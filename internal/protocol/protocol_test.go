package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadEnvelopeRoundTrips(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	env := NewTask(TaskPayload{TaskID: "Task-1", Type: "CheckPrime", Data: "7"})

	done := make(chan error, 1)
	go func() { done <- WriteEnvelope(server, env) }()

	raw, err := ReadFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-done)

	got, ok := DecodeEnvelope(raw)
	require.True(t, ok)
	assert.Equal(t, KindTask, got.Type)
	require.NotNil(t, got.Task)
	assert.Equal(t, "Task-1", got.Task.TaskID)
	assert.Equal(t, "7", got.Task.Data)
}

func TestDecodeEnvelopeFallsBackToLegacyResult(t *testing.T) {
	raw := []byte(`{"TaskId":"Task-1","Success":true,"ResultData":"True"}`)

	env, ok := DecodeEnvelope(raw)

	require.True(t, ok)
	assert.Equal(t, KindResult, env.Type)
	require.NotNil(t, env.Result)
	assert.Equal(t, "Task-1", env.Result.TaskID)
	assert.True(t, env.Result.Success)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, ok := DecodeEnvelope([]byte(`not json at all`))
	assert.False(t, ok)
}

func TestDecodeEnvelopeRejectsLegacyFrameWithoutTaskID(t *testing.T) {
	_, ok := DecodeEnvelope([]byte(`{"Success":true}`))
	assert.False(t, ok)
}

func TestParseLegacyResultRequiresNonEmptyTaskID(t *testing.T) {
	_, ok := ParseLegacyResult([]byte(`{"Success":true,"ResultData":"x"}`))
	assert.False(t, ok)

	rp, ok := ParseLegacyResult([]byte(`{"TaskId":"Task-9","Success":false,"ResultData":"err"}`))
	require.True(t, ok)
	assert.Equal(t, "Task-9", rp.TaskID)
	assert.False(t, rp.Success)
}

func TestEnvelopeConstructorsStampType(t *testing.T) {
	assert.Equal(t, KindTask, NewTask(TaskPayload{}).Type)
	assert.Equal(t, KindResult, NewResult(ResultPayload{}).Type)
	assert.Equal(t, KindPingRequest, NewPingRequest(PingRequestPayload{}).Type)
	assert.Equal(t, KindPingResponse, NewPingResponse(PingResponsePayload{}).Type)
	assert.Equal(t, KindRegister, NewRegister(RegisterPayload{}).Type)
	assert.Equal(t, KindRegisterResponse, NewRegisterResponse(RegisterResponsePayload{}).Type)
}

func TestReadFrameFlagsFullBufferAsPossiblyTruncated(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := make([]byte, BufferSize)
	for i := range payload {
		payload[i] = 'x'
	}

	go func() {
		_ = client.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = server.Write(payload)
	}()

	raw, err := ReadFrame(client)
	assert.Equal(t, ErrFrameTooLarge, err)
	assert.Len(t, raw, BufferSize)
}
