package ui

import (
	"strings"
	"testing"
)

func TestFormatToolArgs(t *testing.T) {
	got := FormatToolArgs(`{"path":"main.go","count":3}`)
	if !strings.Contains(got, `path="main.go"`) {
		t.Errorf("missing path pair: %q", got)
	}
	if !strings.Contains(got, "count=3") {
		t.Errorf("missing count pair: %q", got)
	}
}

func TestFormatToolArgsTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := FormatToolArgs(`{"content":"` + long + `"}`)
	if len(got) > 80 {
		t.Errorf("not truncated: %d chars", len(got))
	}
	if !strings.Contains(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
}

func TestFormatToolArgsNonObject(t *testing.T) {
	if got := FormatToolArgs("not json"); got != "not json" {
		t.Errorf("got %q", got)
	}
}

func TestFormatChars(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5k"},
		{25000, "25k"},
	}
	for _, tt := range tests {
		if got := FormatChars(tt.in); got != tt.want {
			t.Errorf("FormatChars(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarizeToolContent(t *testing.T) {
	if got := SummarizeToolContent(""); got != "empty output" {
		t.Errorf("empty = %q", got)
	}
	if got := SummarizeToolContent("one\ntwo\nthree"); !strings.HasPrefix(got, "3 lines") {
		t.Errorf("multiline = %q", got)
	}
}
