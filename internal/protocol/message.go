// Package protocol defines the wire format spoken between the dispatch
// server and workers: a discriminated JSON envelope per spec §4.2. It
// generalizes the teacher's pkg/types.Message (Type + Data) into the
// envelope shape the spec requires (one field per message kind, plus a
// Timestamp on every frame) and adds a legacy bare-Result fallback for
// older workers. Only the bare-Result shape is recognised; a bare Task
// frame is not decoded as a Task.
package protocol

import (
	"encoding/json"
	"time"
)

// Kind is the message discriminator carried in every frame's Type field.
type Kind string

const (
	KindTask             Kind = "Task"
	KindResult           Kind = "Result"
	KindPingRequest      Kind = "PingRequest"
	KindPingResponse     Kind = "PingResponse"
	KindRegister         Kind = "Register"
	KindRegisterResponse Kind = "RegisterResponse"
)

// TaskPayload is the server->worker task assignment payload.
type TaskPayload struct {
	TaskID      string    `json:"TaskId"`
	Type        string    `json:"Type"`
	Data        string    `json:"Data"`
	RetryCount  int       `json:"RetryCount"`
	CreatedAt   time.Time `json:"CreatedAt"`
	LastRetryAt *time.Time `json:"LastRetryAt,omitempty"`
}

// ResultPayload is the worker->server outcome of a task.
type ResultPayload struct {
	TaskID     string `json:"TaskId"`
	Success    bool   `json:"Success"`
	ResultData string `json:"ResultData"`
}

// PingRequestPayload is the worker->server heartbeat.
type PingRequestPayload struct {
	ClientID string `json:"ClientId"`
}

// PingResponsePayload is the server->worker heartbeat acknowledgement.
type PingResponsePayload struct {
	ServerID string `json:"ServerId"`
}

// RegisterPayload is the worker->server capability declaration.
type RegisterPayload struct {
	ClientID     string   `json:"ClientId"`
	ClientName   string   `json:"ClientName"`
	Capabilities []string `json:"Capabilities"`
	Version      string   `json:"Version"`
}

// RegisterResponsePayload is the server->worker registration acknowledgement.
type RegisterResponsePayload struct {
	Success              bool     `json:"Success"`
	Message              string   `json:"Message"`
	ServerID             string   `json:"ServerId"`
	AcceptedCapabilities []string `json:"AcceptedCapabilities"`
}

// Envelope is the outer frame every message is wrapped in. Only the field
// matching Type is populated; the others are left as their zero value and
// omitted from the wire encoding.
type Envelope struct {
	Type      Kind      `json:"Type"`
	Timestamp time.Time `json:"Timestamp"`

	Task             *TaskPayload             `json:"Task,omitempty"`
	Result           *ResultPayload           `json:"Result,omitempty"`
	PingRequest      *PingRequestPayload      `json:"PingRequest,omitempty"`
	PingResponse     *PingResponsePayload     `json:"PingResponse,omitempty"`
	Register         *RegisterPayload         `json:"Register,omitempty"`
	RegisterResponse *RegisterResponsePayload `json:"RegisterResponse,omitempty"`
}

// NewTask builds a Task envelope ready to write to a worker's socket.
func NewTask(p TaskPayload) Envelope {
	return Envelope{Type: KindTask, Timestamp: time.Now(), Task: &p}
}

// NewResult builds a Result envelope a worker sends back.
func NewResult(p ResultPayload) Envelope {
	return Envelope{Type: KindResult, Timestamp: time.Now(), Result: &p}
}

// NewPingRequest builds the worker's heartbeat frame.
func NewPingRequest(p PingRequestPayload) Envelope {
	return Envelope{Type: KindPingRequest, Timestamp: time.Now(), PingRequest: &p}
}

// NewPingResponse builds the server's heartbeat acknowledgement.
func NewPingResponse(p PingResponsePayload) Envelope {
	return Envelope{Type: KindPingResponse, Timestamp: time.Now(), PingResponse: &p}
}

// NewRegister builds a worker's capability declaration frame.
func NewRegister(p RegisterPayload) Envelope {
	return Envelope{Type: KindRegister, Timestamp: time.Now(), Register: &p}
}

// NewRegisterResponse builds the server's registration acknowledgement.
func NewRegisterResponse(p RegisterResponsePayload) Envelope {
	return Envelope{Type: KindRegisterResponse, Timestamp: time.Now(), RegisterResponse: &p}
}

// legacyResult is the shape of a bare (non-enveloped) Result frame some
// older workers send: spec §4.2 requires these be accepted anyway.
type legacyResult struct {
	TaskID     string `json:"TaskId"`
	Success    bool   `json:"Success"`
	ResultData string `json:"ResultData"`
}

// ParseLegacyResult attempts to interpret raw bytes as a bare Result frame.
// It only succeeds if TaskId is present and non-empty, per spec §4.2/§4.4
// step 3 ("unknown: attempt legacy Result parse; otherwise drop").
func ParseLegacyResult(raw []byte) (ResultPayload, bool) {
	var lr legacyResult
	if err := json.Unmarshal(raw, &lr); err != nil {
		return ResultPayload{}, false
	}
	if lr.TaskID == "" {
		return ResultPayload{}, false
	}
	return ResultPayload{TaskID: lr.TaskID, Success: lr.Success, ResultData: lr.ResultData}, true
}
