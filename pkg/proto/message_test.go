package proto

import (
	"testing"
	"time"
)

func TestNewMessageAndValidate(t *testing.T) {
	msg := NewMessage(MsgTypeFeatureImplemented, "developer", "tester")
	if err := msg.Validate(); err != nil {
		t.Fatalf("fresh message should validate: %v", err)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("default priority = %v, want normal", msg.Priority)
	}
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Error("ID and timestamp must be populated")
	}

	other := NewMessage(MsgTypeFeatureImplemented, "developer", "tester")
	if other.ID == msg.ID {
		t.Error("message IDs must be unique")
	}
}

func TestValidateRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"missing ID", func(m *Message) { m.ID = "" }},
		{"missing type", func(m *Message) { m.Type = "" }},
		{"missing from", func(m *Message) { m.From = "" }},
		{"missing to", func(m *Message) { m.To = "" }},
		{"missing timestamp", func(m *Message) { m.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage(MsgTypeShutdown, "a", "b")
			tt.mutate(msg)
			if err := msg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMessageRoundTripAndClone(t *testing.T) {
	msg := NewMessage(MsgTypeBugsFound, "tester", "developer")
	msg.Subject = "login regression"
	msg.SetBody("report", "session leaks on retry")
	msg.Priority = PriorityHigh

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	decoded, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if report, ok := decoded.BodyString("report"); !ok || report != "session leaks on retry" {
		t.Errorf("body lost in round trip: %q %v", report, ok)
	}

	clone := msg.Clone()
	clone.SetBody("report", "mutated")
	if report, _ := msg.BodyString("report"); report != "session leaks on retry" {
		t.Error("mutating a clone must not touch the original")
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	if !(PriorityHigh.Rank() < PriorityNormal.Rank() && PriorityNormal.Rank() < PriorityLow.Rank()) {
		t.Error("priority ranks out of order")
	}
	if Priority("bogus").Rank() <= PriorityLow.Rank() {
		t.Error("unknown priorities must sort last")
	}
}

func TestParsePriority(t *testing.T) {
	if p, err := ParsePriority(""); err != nil || p != PriorityNormal {
		t.Errorf("empty input: p=%v err=%v", p, err)
	}
	if p, err := ParsePriority("HIGH"); err != nil || p != PriorityHigh {
		t.Errorf("case-insensitive parse: p=%v err=%v", p, err)
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("unknown priority must error")
	}
}

func TestParseSignal(t *testing.T) {
	if sig, err := ParseSignal("task_complete"); err != nil || sig != SignalTaskComplete {
		t.Errorf("lowercase parse: sig=%v err=%v", sig, err)
	}
	if sig, err := ParseSignal("  APPROVED  "); err != nil || sig != SignalApproved {
		t.Errorf("whitespace trim: sig=%v err=%v", sig, err)
	}
	if sig, err := ParseSignal(""); err != nil || sig != SignalNone {
		t.Errorf("empty parse: sig=%v err=%v", sig, err)
	}
	if _, err := ParseSignal("MAYBE"); err == nil {
		t.Error("unknown signal must error")
	}
}

func TestStateChangeNotificationPayload(t *testing.T) {
	n := StateChangeNotification{
		SessionID: "session-1",
		FromState: StateDevTest,
		ToState:   StateReview,
		Metadata:  map[string]any{"cycle": 2},
	}
	p := n.Payload()
	if p["from"] != "DEV_TEST" || p["to"] != "REVIEW" {
		t.Errorf("payload states = %v/%v, want DEV_TEST/REVIEW", p["from"], p["to"])
	}
	meta, ok := p["meta"].(map[string]any)
	if !ok || meta["cycle"] != 2 {
		t.Errorf("payload meta = %v, want cycle 2", p["meta"])
	}

	bare := StateChangeNotification{FromState: StatePlanning, ToState: StateDevTest}
	if _, ok := bare.Payload()["meta"]; ok {
		t.Error("empty metadata must be omitted")
	}
}

func TestSignalTerminal(t *testing.T) {
	if SignalNone.Terminal() {
		t.Error("none is not terminal")
	}
	for _, sig := range []Signal{SignalTaskComplete, SignalBugsFound, SignalApproved, SignalError} {
		if !sig.Terminal() {
			t.Errorf("%v should be terminal", sig)
		}
	}
}
