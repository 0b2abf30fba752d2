package cardfile

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"word", 1},
		{"words", 2},
		{"two words", 3},
		{"a b c", 3},
		{"  spaced   out  ", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestDigest(t *testing.T) {
	a := Digest([]byte("card bytes"))
	b := Digest([]byte("card bytes"))
	c := Digest([]byte("different bytes"))
	if a != b {
		t.Error("digest is not deterministic")
	}
	if a == c {
		t.Error("distinct inputs share a digest")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}
