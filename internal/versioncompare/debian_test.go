package versioncompare

import (
	"math/rand"
	"testing"
)

func TestDebianComparator_KeeldemoScenario(t *testing.T) {
	c := NewDebianComparator(nil)
	versions := []string{
		"keeldemo-0.0.1~dev.8-h8.41595c4",
		"keeldemo-0.0.1~dev.9-h9.3d2c8ff",
		"keeldemo-0.0.1~dev.10-h10.1d2d542",
	}

	rng := rand.New(rand.NewSource(1))
	shuffled := append([]string(nil), versions...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	SortDescending(shuffled, c)

	want := []string{
		"keeldemo-0.0.1~dev.10-h10.1d2d542",
		"keeldemo-0.0.1~dev.9-h9.3d2c8ff",
		"keeldemo-0.0.1~dev.8-h8.41595c4",
	}
	for i := range want {
		if shuffled[i] != want[i] {
			t.Fatalf("sorted[%d] = %q, want %q (got %v)", i, shuffled[i], want[i], shuffled)
		}
	}
}

func TestDebianComparator_TildeSortsBeforeEverything(t *testing.T) {
	c := NewDebianComparator(nil)
	// "1.0~rc1" is a pre-release of "1.0" and must rank lower.
	if c.Compare("pkg-1.0~rc1", "pkg-1.0") >= 0 {
		t.Fatal("expected 1.0~rc1 to rank lower than 1.0")
	}
}

func TestDebianComparator_NumericRunsCompareByMagnitude(t *testing.T) {
	c := NewDebianComparator(nil)
	if c.Compare("pkg-1.2", "pkg-1.10") >= 0 {
		t.Fatal("expected 1.2 to rank lower than 1.10 (numeric, not lexicographic)")
	}
}

func TestDebianComparator_Equal(t *testing.T) {
	c := NewDebianComparator(nil)
	if c.Compare("pkg-1.0.0", "pkg-1.0.0") != 0 {
		t.Fatal("expected equal versions to compare equal")
	}
}

func TestDebianComparator_Transitive(t *testing.T) {
	c := NewDebianComparator(nil)
	versions := []string{"pkg-1.0.0", "pkg-1.0.1", "pkg-2.0.0", "pkg-1.10.0", "pkg-1.2.0"}
	for i := 0; i < len(versions); i++ {
		for j := 0; j < len(versions); j++ {
			for k := 0; k < len(versions); k++ {
				if c.Compare(versions[i], versions[j]) > 0 && c.Compare(versions[j], versions[k]) > 0 {
					if c.Compare(versions[i], versions[k]) <= 0 {
						t.Fatalf("transitivity violated for %q > %q > %q", versions[i], versions[j], versions[k])
					}
				}
			}
		}
	}
}

func TestDebianComparator_DebianRevisionBreaksTies(t *testing.T) {
	c := NewDebianComparator(nil)
	if c.Compare("pkg-1.0.0-1", "pkg-1.0.0-2") >= 0 {
		t.Fatal("expected revision -1 to rank lower than -2 when upstream versions are equal")
	}
}
