// Package markup parses assistant message content into renderable segments.
//
// The assistant backend embeds structured markers inside otherwise plain
// message text. The marker grammar is a wire contract shared with the
// backend and must be preserved byte-for-byte:
//
//	[LOCATION: <lat>, <lon>, "<label>"]
//	[TRIP_TABLE: <body>]
package markup

import (
	"regexp"
	"strconv"
	"strings"
)

// SegmentKind discriminates the renderable segment variants.
type SegmentKind int

// Segment kinds.
const (
	SegmentText SegmentKind = iota
	SegmentLocation
	SegmentTable
)

// Segment is one renderable piece of a message. Exactly the fields for its
// Kind are populated.
type Segment struct {
	Kind SegmentKind

	// SegmentText
	Text string

	// SegmentLocation
	Lat   float64
	Lon   float64
	Label string

	// SegmentTable: rows with the separator line removed, header first.
	Rows [][]string
	Raw  string
}

var markerRe = regexp.MustCompile(
	`(?s)\[LOCATION:\s*([+-]?\d+(?:\.\d+)?)\s*,\s*([+-]?\d+(?:\.\d+)?)\s*,\s*"([^"]*)"\s*\]` +
		`|\[TRIP_TABLE:(.*?)\]`,
)

// Parse scans content for location and table markers, in source order, and
// returns the segment sequence. It is total: malformed markers are left in
// place as plain text and never cause an error.
func Parse(content string) []Segment {
	var segments []Segment

	rest := content
	for {
		loc := markerRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}

		if before := rest[:loc[0]]; before != "" {
			segments = append(segments, Segment{Kind: SegmentText, Text: before})
		}

		if loc[2] >= 0 {
			// Location marker: lat/lon are guaranteed numeric by the
			// pattern, so Parse errors cannot occur here.
			lat, _ := strconv.ParseFloat(rest[loc[2]:loc[3]], 64)
			lon, _ := strconv.ParseFloat(rest[loc[4]:loc[5]], 64)
			segments = append(segments, Segment{
				Kind:  SegmentLocation,
				Lat:   lat,
				Lon:   lon,
				Label: rest[loc[6]:loc[7]],
			})
		} else {
			body := rest[loc[8]:loc[9]]
			if rows := parseTableRows(body); len(rows) > 0 {
				segments = append(segments, Segment{
					Kind: SegmentTable,
					Rows: rows,
					Raw:  body,
				})
			}
			// A table with no valid rows is dropped silently.
		}

		rest = rest[loc[1]:]
	}

	if rest != "" {
		segments = append(segments, Segment{Kind: SegmentText, Text: rest})
	}
	return segments
}

// parseTableRows decomposes a table body into cell rows. Lines without a
// pipe are ignored, the second pipe line is the header separator and is
// discarded, and empty cells produced by leading/trailing pipes are dropped.
func parseTableRows(body string) [][]string {
	var rows [][]string
	lineNo := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "|") {
			continue
		}
		lineNo++
		if lineNo == 2 {
			continue // separator row
		}
		cells := strings.Split(line, "|")
		if len(cells) > 0 && strings.TrimSpace(cells[0]) == "" {
			cells = cells[1:]
		}
		if len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
		if len(cells) == 0 {
			continue
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			row[i] = strings.TrimSpace(c)
		}
		rows = append(rows, row)
	}
	return rows
}
