package runner

import (
	"testing"

	"swarm/pkg/proto"
)

func TestDetectSignal(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   proto.Signal
	}{
		{"task complete", "Implemented the login page.\nTASK COMPLETE", proto.SignalTaskComplete},
		{"case insensitive", "all done here. task complete", proto.SignalTaskComplete},
		{"project complete", "Everything works.\nPROJECT COMPLETE\n", proto.SignalProjectComplete},
		{"bugs found", "Ran the suite.\nBUGS FOUND: login returns 500", proto.SignalBugsFound},
		{"changes requested", "CHANGES REQUESTED: missing error handling", proto.SignalChangesRequested},
		{"approved", "Looks good.\nAPPROVED", proto.SignalApproved},
		{"not approved", "This is NOT APPROVED.", proto.SignalNone},
		{"unapproved", "The change remains UNAPPROVED.", proto.SignalNone},
		{"negated then genuine", "First pass was NOT APPROVED, but after the fix: APPROVED", proto.SignalApproved},
		{"rejection with verdict", "NOT APPROVED. CHANGES REQUESTED: add rate limiting.", proto.SignalChangesRequested},
		{"no marker", "Still working on the parser...", proto.SignalNone},
		{"empty output", "", proto.SignalNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSignal(tt.output); got != tt.want {
				t.Errorf("DetectSignal(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestDetectSignalEarliestWins(t *testing.T) {
	// A tester that reports bugs and then muses about approval still
	// signals bugs.
	output := "BUGS FOUND: the session test fails.\nOtherwise this would be APPROVED."
	if got := DetectSignal(output); got != proto.SignalBugsFound {
		t.Fatalf("DetectSignal = %v, want %v", got, proto.SignalBugsFound)
	}

	output = "I almost APPROVED this, but BUGS FOUND in the retry path."
	if got := DetectSignal(output); got != proto.SignalApproved {
		t.Fatalf("DetectSignal = %v, want %v (earliest marker, not strongest)", got, proto.SignalApproved)
	}
}

func TestSignalMarkersStable(t *testing.T) {
	markers := SignalMarkers()
	if len(markers) != len(signalMarkers) {
		t.Fatalf("expected %d markers, got %d", len(signalMarkers), len(markers))
	}
	for i := 1; i < len(markers); i++ {
		if markers[i-1] >= markers[i] {
			t.Fatalf("markers not sorted: %v", markers)
		}
	}
}
