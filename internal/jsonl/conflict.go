package jsonl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ConflictMarkerKind classifies which of the three VCS conflict sentinels a
// line starts with.
type ConflictMarkerKind string

const (
	MarkerStart    ConflictMarkerKind = "start"    // <<<<<<<
	MarkerSeparator ConflictMarkerKind = "separator" // =======
	MarkerEnd      ConflictMarkerKind = "end"      // >>>>>>>
)

const (
	sentinelStart     = "<<<<<<<"
	sentinelSeparator = "======="
	sentinelEnd       = ">>>>>>>"
)

// ConflictMarker is one occurrence of a merge-conflict sentinel.
type ConflictMarker struct {
	Line   int                // 1-based line number
	Kind   ConflictMarkerKind
	Branch string // text following a start/end sentinel (e.g. a branch name), if present
}

// ScanConflictMarkers streams r line by line and returns every conflict
// sentinel found, in file order.
func ScanConflictMarkers(r io.Reader) ([]ConflictMarker, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	var markers []ConflictMarker
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, sentinelStart):
			markers = append(markers, ConflictMarker{Line: lineNum, Kind: MarkerStart, Branch: strings.TrimSpace(line[len(sentinelStart):])})
		case strings.HasPrefix(line, sentinelSeparator):
			markers = append(markers, ConflictMarker{Line: lineNum, Kind: MarkerSeparator})
		case strings.HasPrefix(line, sentinelEnd):
			markers = append(markers, ConflictMarker{Line: lineNum, Kind: MarkerEnd, Branch: strings.TrimSpace(line[len(sentinelEnd):])})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan conflict markers: %w", err)
	}
	return markers, nil
}

// EnsureNoConflictMarkers scans r and returns an error naming up to the
// first five markers (with line numbers) if any are found, nil otherwise.
// Used as the mandatory pre-scan step of JSONL import.
func EnsureNoConflictMarkers(r io.Reader) error {
	markers, err := ScanConflictMarkers(r)
	if err != nil {
		return err
	}
	if len(markers) == 0 {
		return nil
	}
	limit := len(markers)
	if limit > 5 {
		limit = 5
	}
	var b strings.Builder
	fmt.Fprintf(&b, "file contains %d merge-conflict marker(s); first %d:", len(markers), limit)
	for _, m := range markers[:limit] {
		fmt.Fprintf(&b, "\n  line %d: %s", m.Line, m.Kind)
	}
	return fmt.Errorf("%s", b.String())
}
