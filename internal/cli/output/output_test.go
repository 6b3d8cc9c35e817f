package output

import (
	"strings"
	"testing"
)

type classRow struct {
	Class    string   `json:"class"`
	Count    int      `json:"count"`
	Checksum string   `json:"checksum"`
	Tags     []string `json:"tags"`
	Internal string   `json:"-" table:"-"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTableFormatter_Slice(t *testing.T) {
	rows := []classRow{
		{Class: "cat.nom", Count: 12, Checksum: "0badf00d", Tags: []string{"a", "b"}},
		{Class: "cat.units", Count: 3},
	}
	var b strings.Builder
	if err := NewFormatter(FormatTable).Format(&b, rows); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), b.String())
	}
	if strings.Join(strings.Fields(lines[0]), " ") != "CLASS COUNT CHECKSUM TAGS" {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Join(strings.Fields(lines[1]), " ") != "cat.nom 12 0badf00d a,b" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if strings.Join(strings.Fields(lines[2]), " ") != "cat.units 3 - -" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestTableFormatter_MapIsSorted(t *testing.T) {
	var b strings.Builder
	err := TableFormatter{NoHeaders: true}.Format(&b, map[string]any{"zone": "21", "bytes": 10})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got := strings.Fields(b.String()); strings.Join(got, " ") != "bytes 10 zone 21" {
		t.Errorf("Format() = %q", b.String())
	}
}

type customRows struct{}

func (customRows) Table() *Table {
	return &Table{Headers: []string{"A"}, Rows: [][]string{{"x"}}}
}

func TestTableFormatter_Tabular(t *testing.T) {
	var b strings.Builder
	if err := (TableFormatter{}).Format(&b, customRows{}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if b.String() != "A\nx\n" {
		t.Errorf("Format() = %q", b.String())
	}
}

func TestTableFormatter_FallsBackToYAML(t *testing.T) {
	var b strings.Builder
	if err := (TableFormatter{}).Format(&b, "plain"); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if b.String() != "plain\n" {
		t.Errorf("Format() = %q", b.String())
	}
}

func TestJSONFormatter_KeepsHTML(t *testing.T) {
	var b strings.Builder
	if err := NewFormatter(FormatJSON).Format(&b, map[string]string{"name": "Profile <60>"}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(b.String(), "Profile <60>") {
		t.Errorf("Format() = %q", b.String())
	}
}

func TestYAMLFormatter(t *testing.T) {
	var b strings.Builder
	data := []classRow{{Class: "cat.nom", Count: 1}}
	if err := NewFormatter(FormatYAML).Format(&b, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(b.String(), "class: cat.nom") || !strings.Contains(b.String(), "count: 1") {
		t.Errorf("Format() = %q", b.String())
	}
}

func TestProgressWriter(t *testing.T) {
	var dst, status strings.Builder
	p := NewProgressWriter(&dst, &status, "fetch")
	p.interval = 0

	for i := 0; i < 3; i++ {
		if _, err := p.Write([]byte("0123456789")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	p.Finish()

	if dst.String() != strings.Repeat("0123456789", 3) || p.Written() != 30 {
		t.Errorf("written = %d, dst = %q", p.Written(), dst.String())
	}
	if !strings.HasSuffix(status.String(), "\rfetch 30 B\n") {
		t.Errorf("status = %q", status.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
