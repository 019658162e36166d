package markup

import (
	"math"
	"testing"
)

func TestParseLocationMarker(t *testing.T) {
	segs := Parse(`[LOCATION: 6.5244, 3.3792, "Victoria Island"]`)

	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d: %#v", len(segs), segs)
	}
	seg := segs[0]
	if seg.Kind != SegmentLocation {
		t.Fatalf("expected location segment, got kind %d", seg.Kind)
	}
	if math.Abs(seg.Lat-6.5244) > 1e-9 || math.Abs(seg.Lon-3.3792) > 1e-9 {
		t.Errorf("wrong coordinates: %v, %v", seg.Lat, seg.Lon)
	}
	if seg.Label != "Victoria Island" {
		t.Errorf("wrong label: %q", seg.Label)
	}
}

func TestParseLocationVariants(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		lat   float64
		lon   float64
		label string
	}{
		{"negative coordinates", `[LOCATION: -1.2921, 36.8219, "Nairobi CBD"]`, -1.2921, 36.8219, "Nairobi CBD"},
		{"integer coordinates", `[LOCATION: 7, 3, "depot"]`, 7, 3, "depot"},
		{"explicit plus sign", `[LOCATION: +6.45, +3.39, "Apapa"]`, 6.45, 3.39, "Apapa"},
		{"empty label", `[LOCATION: 6.5, 3.3, ""]`, 6.5, 3.3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := Parse(tt.in)
			if len(segs) != 1 || segs[0].Kind != SegmentLocation {
				t.Fatalf("expected single location segment, got %#v", segs)
			}
			if segs[0].Lat != tt.lat || segs[0].Lon != tt.lon || segs[0].Label != tt.label {
				t.Errorf("got (%v, %v, %q)", segs[0].Lat, segs[0].Lon, segs[0].Label)
			}
		})
	}
}

func TestParseTripTable(t *testing.T) {
	segs := Parse("text [TRIP_TABLE: | A | B |\n| - | - |\n| 1 | 2 |] more")

	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %#v", len(segs), segs)
	}
	if segs[0].Kind != SegmentText || segs[0].Text != "text " {
		t.Errorf("wrong leading text: %#v", segs[0])
	}
	if segs[2].Kind != SegmentText || segs[2].Text != " more" {
		t.Errorf("wrong trailing text: %#v", segs[2])
	}

	table := segs[1]
	if table.Kind != SegmentTable {
		t.Fatalf("expected table segment, got %#v", table)
	}
	want := [][]string{{"A", "B"}, {"1", "2"}}
	if len(table.Rows) != len(want) {
		t.Fatalf("expected %d rows, got %d: %#v", len(want), len(table.Rows), table.Rows)
	}
	for i, row := range want {
		for j, cell := range row {
			if table.Rows[i][j] != cell {
				t.Errorf("row %d cell %d: got %q, want %q", i, j, table.Rows[i][j], cell)
			}
		}
	}
}

func TestParseMalformedMarkers(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unterminated location", `[LOCATION: 6.5, 3.3, "lost`},
		{"non-numeric latitude", `[LOCATION: lat, 3.3, "x"]`},
		{"missing label quotes", `[LOCATION: 6.5, 3.3, label]`},
		{"unterminated table", `[TRIP_TABLE: | a | b |`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := Parse(tt.in)
			if len(segs) != 1 || segs[0].Kind != SegmentText || segs[0].Text != tt.in {
				t.Errorf("malformed marker should stay literal text, got %#v", segs)
			}
		})
	}
}

func TestParseEmptyTableDropped(t *testing.T) {
	segs := Parse("before [TRIP_TABLE: nothing tabular here] after")

	if len(segs) != 2 {
		t.Fatalf("expected table to be dropped, got %#v", segs)
	}
	if segs[0].Text != "before " || segs[1].Text != " after" {
		t.Errorf("surrounding text mangled: %#v", segs)
	}
}

func TestParseInterleavedMarkers(t *testing.T) {
	in := `Vehicle is at [LOCATION: 6.5, 3.3, "Ikeja"] heading home. [LOCATION: 6.6, 3.4, "Ogba"]`
	segs := Parse(in)

	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d: %#v", len(segs), segs)
	}
	kinds := []SegmentKind{SegmentText, SegmentLocation, SegmentText, SegmentLocation}
	for i, k := range kinds {
		if segs[i].Kind != k {
			t.Errorf("segment %d: kind %d, want %d", i, segs[i].Kind, k)
		}
	}
	if segs[2].Text != " heading home. " {
		t.Errorf("plain runs must not merge across markers: %q", segs[2].Text)
	}
}

func TestParseEmptyInput(t *testing.T) {
	if segs := Parse(""); len(segs) != 0 {
		t.Errorf("empty input should yield no segments, got %#v", segs)
	}
}
