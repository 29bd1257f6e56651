package bridge

import "encoding/json"

// Message types carried on the bus.
const (
	TypeReady  = "ready"
	TypeInit   = "init"
	TypeCall   = "call"
	TypeResult = "result"
)

// InitCorrelationID tags the one-time initialization message.
const InitCorrelationID = "__init__"

// Message is the single JSON envelope used in both directions.
//
// Host to embedded context: init and call messages.
// Embedded context to host: ready and result messages. A result carries either
// Result or ErrorMessage; a present ErrorMessage marks failure even when empty.
type Message struct {
	Type          string                 `json:"type"`
	ContextID     string                 `json:"contextId"`
	Origin        string                 `json:"origin,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	ProcedureName string                 `json:"procedureName,omitempty"`
	Params        json.RawMessage        `json:"params,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Result        json.RawMessage        `json:"result,omitempty"`
	ErrorMessage  *string                `json:"errorMessage,omitempty"`
	Version       string                 `json:"version,omitempty"`
}

// Failure returns the error text of a result and whether the call failed.
func (m *Message) Failure() (string, bool) {
	if m.ErrorMessage == nil {
		return "", false
	}
	return *m.ErrorMessage, true
}

// SetError marks a result as failed with text.
func (m *Message) SetError(text string) {
	m.ErrorMessage = &text
}
