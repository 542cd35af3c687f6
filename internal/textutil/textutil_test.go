package textutil

import (
	"strings"
	"testing"
)

func TestNormalizeForMatch(t *testing.T) {
	t.Parallel()

	// Full-width latin folds to ASCII under NFKC.
	if got := NormalizeForMatch("  ＵＥＤＡ\tKazuo  総裁 "); got != "ueda kazuo 総裁" {
		t.Fatalf("got %q", got)
	}
}

func TestHasSufficientContent(t *testing.T) {
	t.Parallel()

	varied := "The Bank of Japan governor said on Tuesday that policy makers would keep watching wages, prices and the yen before deciding."
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"short", "too short", false},
		{"long but repetitive", strings.Repeat("yen yen ", 20), false},
		{"varied", varied, true},
		{"single letters dropped", strings.Repeat("a b c d e f g h i j k l ", 8), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HasSufficientContent(tt.in); got != tt.want {
				t.Fatalf("HasSufficientContent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountOccurrencesNonOverlapping(t *testing.T) {
	t.Parallel()

	if got := CountOccurrences("aaaa", "aa"); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if got := CountOccurrences("abc", ""); got != 0 {
		t.Fatalf("empty needle counted %d", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	if got := Truncate("日本銀行総裁", 2); got != "日本" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
