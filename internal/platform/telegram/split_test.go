package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("", 10)
	if len(got) != 1 || got[0] != "" {
		t.Fatalf("splitText(empty) = %q, want one empty chunk", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 6)
	s := strings.Join([]string{line, line, line}, "\n") // 20 runes

	got := splitText(s, 14)
	want := []string{line + "\n" + line, line}
	if len(got) != len(want) {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitTextRespectsRuneLimit(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("€", 25)
	got := splitText(s, 10)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	total := 0
	for i, c := range got {
		n := utf8.RuneCountInString(c)
		if n == 0 || n > 10 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		total += n
	}
	if total != 25 {
		t.Fatalf("total runes = %d, want 25", total)
	}
}

func TestSplitTextDefaultLimit(t *testing.T) {
	t.Parallel()
	got := splitText(strings.Repeat("x", textLimit+1), 0)
	if len(got) != 2 || len(got[0]) != textLimit {
		t.Fatalf("unexpected split: %d chunks, first %d", len(got), len(got[0]))
	}
}
