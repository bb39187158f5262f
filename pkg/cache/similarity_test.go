package cache

import (
	"math"
	"testing"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "the quick brown fox", "the quick brown fox", 1.0},
		{"case folded", "Hello World", "hello world", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"both empty", "", "", 1.0},
		{"one empty", "hello", "", 0.0},
		{"half overlap", "a b c d", "c d e f", 2.0 / 6.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a, b := "explain binary search trees", "binary search explained simply"
	if Similarity(a, b) != Similarity(b, a) {
		t.Error("similarity should be symmetric")
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{
		"how do i sort a list in python",
		"completely unrelated text here",
		"how do i sort a list",
	}
	matches := FindSimilar("how do i sort a list in python", candidates, 0.5)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Candidate != candidates[0] {
		t.Errorf("best match should be the exact candidate, got %q", matches[0].Candidate)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches should be sorted descending by score")
	}
}

func TestFindSimilarStableTies(t *testing.T) {
	candidates := []string{"b a", "a b"} // identical token sets, same score
	matches := FindSimilar("a b", candidates, 0.9)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Candidate != "b a" || matches[1].Candidate != "a b" {
		t.Error("tied matches should keep candidate input order")
	}
}

func TestFindSimilarThreshold(t *testing.T) {
	matches := FindSimilar("alpha beta gamma", []string{"alpha delta epsilon"}, 0.8)
	if len(matches) != 0 {
		t.Errorf("expected no matches below threshold, got %d", len(matches))
	}
}
