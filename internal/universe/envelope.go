// Package universe lets agents help each other across machines: a node
// serves delegated tasks over a line-delimited JSON envelope protocol on
// TCP, and a client picks a configured peer and sends work its way.
package universe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the envelope wire version.
const ProtocolVersion = 1

// Envelope message types.
const (
	TypePing       = "ping"
	TypePong       = "pong"
	TypeTaskRun    = "task_run"
	TypeTaskResult = "task_result"
	TypeTaskError  = "task_error"
	TypeError      = "error"
)

// Envelope is the top-level wire message. The payload stays schemaless at
// this layer; each message type decodes it into its own struct.
type Envelope struct {
	V        int             `json:"v"`
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	TS       string          `json:"ts"`
	FromNode string          `json:"fromNode,omitempty"`
	ToNode   string          `json:"toNode,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// TaskRunPayload asks a node to execute one task.
type TaskRunPayload struct {
	Kind         string `json:"kind"`
	Prompt       string `json:"prompt"`
	ServiceToken string `json:"serviceToken,omitempty"`
}

// TaskResultPayload carries a completed task's output.
type TaskResultPayload struct {
	Content string `json:"content"`
}

// ErrorPayload carries a task_error or error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope builds an envelope of the given type with a fresh id and
// timestamp. payload may be nil.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{
		V:    ProtocolVersion,
		Type: msgType,
		ID:   uuid.NewString(),
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("universe: encode payload: %w", err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Reply builds a response envelope reusing the request's id, so the caller
// can correlate it on a shared stream.
func (e *Envelope) Reply(msgType string, payload any) (*Envelope, error) {
	resp, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	resp.ID = e.ID
	return resp, nil
}

// Encode renders the envelope as one compact JSON line without the
// trailing newline.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the payload into v. A missing payload decodes
// as the zero value.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// ParseEnvelope decodes one wire line.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("universe: bad envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("universe: envelope missing type")
	}
	return &env, nil
}

// errorEnvelope is a best-effort error reply; encoding an ErrorPayload
// cannot fail.
func errorEnvelope(replyTo *Envelope, msgType, message string) *Envelope {
	env, _ := NewEnvelope(msgType, ErrorPayload{Message: message})
	if replyTo != nil {
		env.ID = replyTo.ID
	}
	return env
}
