package versioncompare

import (
	"log/slog"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/deliveryctl/core/internal/domainerr"
)

// DockerStrategy selects which default regex and comparison rule a
// DockerComparator applies to the tag's captured group.
type DockerStrategy int

const (
	// DockerIncreasingInteger orders tags by their captured integer value.
	DockerIncreasingInteger DockerStrategy = iota
	// DockerSemver orders tags (optionally "v"-prefixed) by semantic
	// version precedence.
	DockerSemver
	// DockerBranchQualified orders tags of the form "<branch>-<build>" by
	// the trailing build number.
	DockerBranchQualified
	// DockerCustomRegex applies a caller-supplied regex with exactly one
	// capture group, compared as an integer.
	DockerCustomRegex
)

var defaultPatterns = map[DockerStrategy]string{
	DockerIncreasingInteger: `^(\d+)$`,
	DockerSemver:            `^v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?)$`,
	DockerBranchQualified:   `^[A-Za-z0-9_./-]+-(\d+)$`,
}

// DockerComparator orders Docker image tags by applying a regex — one of
// the built-in strategies or a caller-supplied custom pattern — that must
// capture exactly one group from the tag.
type DockerComparator struct {
	strategy DockerStrategy
	pattern  *regexp.Regexp
	warn     *warnOnce
}

// NewDockerComparator builds a comparator for strategy. customRegex is
// only consulted when strategy is DockerCustomRegex, and must have exactly
// one capture group. More than one group is an InvalidRegex error; a
// custom regex with zero groups is accepted here and every tag is treated
// as unparseable at compare time (logged), matching the built-in
// strategies' behavior on a non-matching tag.
func NewDockerComparator(strategy DockerStrategy, customRegex string, logger *slog.Logger) (*DockerComparator, error) {
	pattern := customRegex
	if strategy != DockerCustomRegex {
		pattern = defaultPatterns[strategy]
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.KindInvalidRegex, err, "compiling tag regex %q", pattern)
	}
	if re.NumSubexp() > 1 {
		return nil, domainerr.New(domainerr.KindInvalidRegex, "tag regex %q must have exactly one capture group, has %d", pattern, re.NumSubexp())
	}

	return &DockerComparator{strategy: strategy, pattern: re, warn: newWarnOnce(logger)}, nil
}

// Compare implements Comparator. Tags that don't match the pattern, or
// whose captured group fails to parse under the strategy's comparison
// rule, are unparseable and sort last.
func (d *DockerComparator) Compare(a, b string) int {
	va, aOK := d.extract(a)
	vb, bOK := d.extract(b)

	if !aOK && !bOK {
		return 0
	}
	if !aOK {
		return -1
	}
	if !bOK {
		return 1
	}

	switch d.strategy {
	case DockerSemver:
		return va.(*semver.Version).Compare(vb.(*semver.Version))
	default:
		ia, ib := va.(int64), vb.(int64)
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		default:
			return 0
		}
	}
}

// extract applies the pattern to tag and parses the captured group
// according to the comparator's strategy, returning ok=false (and logging
// once) on any failure.
func (d *DockerComparator) extract(tag string) (value any, ok bool) {
	if d.pattern.NumSubexp() < 1 {
		d.warn.warn("docker", tag, "regex has no capture group")
		return nil, false
	}

	m := d.pattern.FindStringSubmatch(tag)
	if m == nil {
		d.warn.warn("docker", tag, "tag did not match strategy regex")
		return nil, false
	}
	captured := m[1]

	switch d.strategy {
	case DockerSemver:
		v, err := semver.NewVersion(captured)
		if err != nil {
			d.warn.warn("docker", tag, "captured group is not a valid semver")
			return nil, false
		}
		return v, true
	default:
		n, err := strconv.ParseInt(captured, 10, 64)
		if err != nil {
			d.warn.warn("docker", tag, "captured group is not a valid integer")
			return nil, false
		}
		return n, true
	}
}
