package versioncompare

import (
	"testing"

	"github.com/deliveryctl/core/internal/domainerr"
)

func TestDockerComparator_IncreasingInteger(t *testing.T) {
	c, err := NewDockerComparator(DockerIncreasingInteger, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Compare("12", "9") <= 0 {
		t.Fatal("expected 12 to rank higher than 9")
	}
	if c.Compare("7", "7") != 0 {
		t.Fatal("expected equal tags to compare equal")
	}
}

func TestDockerComparator_Semver(t *testing.T) {
	c, err := NewDockerComparator(DockerSemver, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Compare("v1.2.0", "v1.10.0") >= 0 {
		t.Fatal("expected 1.2.0 to rank lower than 1.10.0 under semver precedence")
	}
	if c.Compare("2.0.0", "v1.9.9") <= 0 {
		t.Fatal("expected 2.0.0 to rank higher than v1.9.9")
	}
}

func TestDockerComparator_BranchQualified(t *testing.T) {
	c, err := NewDockerComparator(DockerBranchQualified, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Compare("main-42", "main-7") <= 0 {
		t.Fatal("expected main-42 to rank higher than main-7")
	}
}

func TestDockerComparator_CustomRegex_ExactlyOneGroup(t *testing.T) {
	c, err := NewDockerComparator(DockerCustomRegex, `^release-(\d+)$`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Compare("release-5", "release-3") <= 0 {
		t.Fatal("expected release-5 to rank higher than release-3")
	}
}

func TestDockerComparator_CustomRegex_TooManyGroupsFailsInvalidRegex(t *testing.T) {
	_, err := NewDockerComparator(DockerCustomRegex, `^(release)-(\d+)$`, nil)
	if !domainerr.Is(err, domainerr.KindInvalidRegex) {
		t.Fatalf("expected InvalidRegex error, got %v", err)
	}
}

func TestDockerComparator_UnmatchedTagSortsLast(t *testing.T) {
	c, err := NewDockerComparator(DockerIncreasingInteger, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Compare("not-a-number", "3") >= 0 {
		t.Fatal("expected unparseable tag to sort last")
	}
	if c.Compare("not-a-number", "also-not-a-number") != 0 {
		t.Fatal("expected two unparseable tags to compare equal")
	}
}
