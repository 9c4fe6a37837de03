package runner

import (
	"sort"
	"strings"

	"swarm/pkg/proto"
)

// Marker phrases agents emit to signal phase outcomes. Detection is
// case-insensitive and position-ordered: the earliest marker in the
// output wins, so an agent that reports bugs and then rambles about
// approval still signals bugs.
//
//nolint:gochecknoglobals // Lookup table shared by all detectors
var signalMarkers = map[string]proto.Signal{
	"PROJECT COMPLETE":  proto.SignalProjectComplete,
	"TASK COMPLETE":     proto.SignalTaskComplete,
	"BUGS FOUND":        proto.SignalBugsFound,
	"CHANGES REQUESTED": proto.SignalChangesRequested,
	"APPROVED":          proto.SignalApproved,
}

// DetectSignal scans raw agent output for the earliest recognized marker.
// Returns SignalNone when no marker is present. Negated approvals
// ("NOT APPROVED", "UNAPPROVED") never count as approval.
func DetectSignal(output string) proto.Signal {
	upper := strings.ToUpper(output)

	best := proto.SignalNone
	bestPos := -1
	for marker, signal := range signalMarkers {
		pos := markerIndex(upper, marker)
		if pos < 0 {
			continue
		}
		if bestPos < 0 || pos < bestPos {
			best = signal
			bestPos = pos
		}
	}
	return best
}

// markerIndex finds the first genuine occurrence of a marker, skipping
// approval mentions the surrounding text negates.
func markerIndex(upper, marker string) int {
	from := 0
	for {
		pos := strings.Index(upper[from:], marker)
		if pos < 0 {
			return -1
		}
		pos += from
		if marker != "APPROVED" || !negatedApproval(upper, pos) {
			return pos
		}
		from = pos + len(marker)
	}
}

func negatedApproval(upper string, pos int) bool {
	if pos >= 2 && upper[pos-2:pos] == "UN" {
		return true
	}
	i := pos
	for i > 0 && (upper[i-1] == ' ' || upper[i-1] == '\t') {
		i--
	}
	return i >= 3 && upper[i-3:i] == "NOT"
}

// SignalMarkers returns the recognized marker phrases, for prompt assembly.
func SignalMarkers() []string {
	markers := make([]string, 0, len(signalMarkers))
	for m := range signalMarkers {
		markers = append(markers, m)
	}
	sort.Strings(markers)
	return markers
}
