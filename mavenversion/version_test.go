package mavenversion

import (
	"sort"
	"testing"
)

func TestCompareOrdering(t *testing.T) {
	in := []string{
		"1", "2", "1.0", "1.1", "1.1-SNAPSHOT", "1.2.1-SNAPSHOT",
		"1.0.0-jdk9", "3.0.0-jdk9", "1.2",
	}
	want := []string{
		"1", "1.0", "1.0.0-jdk9", "1.1", "1.1-SNAPSHOT",
		"1.2", "1.2.1-SNAPSHOT", "2", "3.0.0-jdk9",
	}

	got := append([]string(nil), in...)
	sort.Slice(got, func(i, j int) bool { return Less(got[i], got[j]) })

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v\nfull got: %v", i, got[i], want[i], got)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	tt := [][2]string{
		{"1.0.0", "1.0.1"},
		{"1.0-SNAPSHOT", "1.0"},
		{"2", "10"},
	}
	for _, tc := range tt {
		a, b := tc[0], tc[1]
		if Compare(a, b) == 0 {
			continue
		}
		if (Compare(a, b) < 0) == (Compare(b, a) < 0) {
			t.Errorf("Compare(%q,%q) and Compare(%q,%q) have the same sign", a, b, b, a)
		}
	}
}

func TestCompareNumericVsLexicographic(t *testing.T) {
	// Numeric comparison, not lexicographic: "2" < "10".
	if !Less("2", "10") {
		t.Fatal("want 2 < 10 under numeric comparison")
	}
}

func TestIsRelease(t *testing.T) {
	tt := []struct {
		version string
		want    bool
	}{
		{"1", true},
		{"1.0", true},
		{"1.0.0", true},
		{"1.0.0-test1", false},
		{"1-SNAPSHOT", false},
		{"1.0-SNAPSHOT", false},
		{"1.0.0-SNAPSHOT", false},
	}
	for _, tc := range tt {
		if got := IsRelease(tc.version); got != tc.want {
			t.Errorf("IsRelease(%q): got %v, want %v", tc.version, got, tc.want)
		}
	}
}
