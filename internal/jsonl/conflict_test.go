package jsonl

import (
	"strings"
	"testing"
)

func TestScanConflictMarkersFindsAllThree(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"bd-1"}`,
		`<<<<<<< HEAD`,
		`{"id":"bd-2","title":"ours"}`,
		`=======`,
		`{"id":"bd-2","title":"theirs"}`,
		`>>>>>>> branch-a`,
	}, "\n")

	markers, err := ScanConflictMarkers(strings.NewReader(input))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(markers) != 3 {
		t.Fatalf("expected 3 markers, got %d", len(markers))
	}
	if markers[0].Kind != MarkerStart || markers[0].Line != 2 || markers[0].Branch != "HEAD" {
		t.Errorf("unexpected start marker: %+v", markers[0])
	}
	if markers[1].Kind != MarkerSeparator || markers[1].Line != 4 {
		t.Errorf("unexpected separator marker: %+v", markers[1])
	}
	if markers[2].Kind != MarkerEnd || markers[2].Line != 6 || markers[2].Branch != "branch-a" {
		t.Errorf("unexpected end marker: %+v", markers[2])
	}
}

func TestScanConflictMarkersCleanFileReturnsNone(t *testing.T) {
	input := `{"id":"bd-1"}` + "\n" + `{"id":"bd-2"}`
	markers, err := ScanConflictMarkers(strings.NewReader(input))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(markers) != 0 {
		t.Fatalf("expected no markers, got %d", len(markers))
	}
}

func TestEnsureNoConflictMarkersErrorsOnFirstMarker(t *testing.T) {
	input := `{"id":"bd-1"}` + "\n<<<<<<< HEAD\n{}\n=======\n{}\n>>>>>>> theirs"
	if err := EnsureNoConflictMarkers(strings.NewReader(input)); err == nil {
		t.Fatalf("expected an error for a file containing conflict markers")
	}
}

func TestEnsureNoConflictMarkersPassesCleanFile(t *testing.T) {
	input := `{"id":"bd-1"}` + "\n" + `{"id":"bd-2"}`
	if err := EnsureNoConflictMarkers(strings.NewReader(input)); err != nil {
		t.Fatalf("expected clean file to pass, got %v", err)
	}
}

func TestEnsureNoConflictMarkersCapsReportAtFive(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteString("<<<<<<< HEAD\n")
	}
	err := EnsureNoConflictMarkers(strings.NewReader(b.String()))
	if err == nil {
		t.Fatalf("expected an error")
	}
	if strings.Count(err.Error(), "line ") != 5 {
		t.Fatalf("expected exactly 5 reported lines, got: %s", err.Error())
	}
}
