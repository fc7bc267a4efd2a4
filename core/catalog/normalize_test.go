package catalog

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Song A", "song a"},
		{"  SONG a  ", "song a"},
		{"Song A (feat. Artist Y)", "song a"},
		{"Song A ft. Artist Y", "song a"},
		{"Song A [Featuring Artist Y]", "song a"},
		{"Song A - feat. Y", "song a"},
		{"Song A (Remastered 2011)", "song a"},
		{"Song A [Live]", "song a"},
		{"Don't Stop Me Now", "dont stop me now"},
		{"AC/DC", "acdc"},
		{"Song   A", "song a"},
		{"", ""},
	}

	for _, c := range cases {
		got := Normalize(c.in)
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeConvergence(t *testing.T) {
	// Two catalog entries for the same recording must normalize
	// identically, otherwise they produce distinct cache keys.
	a := Normalize("Good Song (feat. Somebody)")
	b := Normalize("GOOD SONG ft. Somebody Else")
	if a != b {
		t.Errorf("expected convergent normalization, got %q and %q", a, b)
	}
}
