// Package proto defines the typed messages, signals, and pipeline states
// exchanged between coordinated agents.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MsgType is a namespaced message type such as "feature.implemented" or
// "review.changes_requested". The namespace is free-form; well-known types
// used by the pipeline are defined below.
type MsgType string

const (
	MsgTypeFeatureImplemented     MsgType = "feature.implemented"
	MsgTypeTestingComplete        MsgType = "testing.complete"
	MsgTypeBugsFound              MsgType = "testing.bugs_found"
	MsgTypeReviewApproved         MsgType = "review.approved"
	MsgTypeReviewChangesRequested MsgType = "review.changes_requested"
	MsgTypePlanReady              MsgType = "planning.complete"
	MsgTypeConflictDetected       MsgType = "conflict.detected"
	MsgTypeShutdown               MsgType = "session.shutdown"
)

// Priority orders messages within an inbox. Lower rank is read first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank for a priority; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// ParsePriority parses a string into a Priority with validation.
// The empty string defaults to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(s)) {
	case "":
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	default:
		return "", fmt.Errorf("unknown priority: %s", s)
	}
}

// Message is one directed notification between agents. Once delivered it is
// immutable except for the Read flag.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MsgType        `json:"type"`
	Subject   string         `json:"subject"`
	Body      map[string]any `json:"body,omitempty"`
	Priority  Priority       `json:"priority"`
	Read      bool           `json:"read"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a generated ID and UTC timestamp.
func NewMessage(msgType MsgType, from, to string) *Message {
	return &Message{
		ID:        generateID(),
		Type:      msgType,
		From:      from,
		To:        to,
		Priority:  PriorityNormal,
		Timestamp: time.Now().UTC(),
		Body:      make(map[string]any),
	}
}

func (m *Message) SetBody(key string, value any) {
	if m.Body == nil {
		m.Body = make(map[string]any)
	}
	m.Body[key] = value
}

func (m *Message) GetBody(key string) (any, bool) {
	if m.Body == nil {
		return nil, false
	}
	val, exists := m.Body[key]
	return val, exists
}

// BodyString extracts a string-valued body field.
func (m *Message) BodyString(key string) (string, bool) {
	if val, exists := m.GetBody(key); exists {
		if s, ok := val.(string); ok {
			return s, true
		}
	}
	return "", false
}

func (m *Message) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := &Message{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Type:      m.Type,
		Subject:   m.Subject,
		Priority:  m.Priority,
		Read:      m.Read,
		Timestamp: m.Timestamp,
	}
	if m.Body != nil {
		clone.Body = make(map[string]any, len(m.Body))
		for k, v := range m.Body {
			clone.Body[k] = v
		}
	}
	return clone
}

func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}
	if m.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if m.From == "" {
		return fmt.Errorf("from agent is required")
	}
	if m.To == "" {
		return fmt.Errorf("to agent is required")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

//nolint:gochecknoglobals // Process-wide counter keeps IDs unique within a run
var (
	idCounter int64
	idMutex   sync.Mutex
)

// generateID creates a unique ID for messages.
func generateID() string {
	idMutex.Lock()
	defer idMutex.Unlock()

	idCounter++
	return fmt.Sprintf("msg_%d_%d", time.Now().UnixNano(), idCounter)
}
