package versioncompare

import (
	"log/slog"
	"strings"
)

// DebianComparator orders version strings of the form
// "package-version[~suffix][-hHASH]" using dpkg version-compare semantics
// on the part after the package-name prefix. Unparseable inputs (here:
// none are rejected outright — every string has a dpkg reading — but an
// input that is empty after stripping counts as unparseable) are logged
// once per distinct input and sort below every parseable input; two
// unparseable inputs rank equal.
type DebianComparator struct {
	warn *warnOnce
}

// NewDebianComparator returns a stateless Debian-semver comparator; it has
// structural equality (no comparator state besides its logger), matching
// the "singleton value object" shape of the original strategy.
func NewDebianComparator(logger *slog.Logger) *DebianComparator {
	return &DebianComparator{warn: newWarnOnce(logger)}
}

// stripPackagePrefix removes the leading "package-" token from a raw
// version string, returning the dpkg-comparable remainder. If there is no
// '-' at all the whole string is treated as the remainder.
func stripPackagePrefix(raw string) string {
	idx := strings.Index(raw, "-")
	if idx < 0 {
		return raw
	}
	return raw[idx+1:]
}

// Compare implements Comparator. Unparseable (empty-after-stripping)
// inputs sort last; between two unparseable inputs, rank is equal.
func (d *DebianComparator) Compare(a, b string) int {
	ra, rb := stripPackagePrefix(a), stripPackagePrefix(b)

	aEmpty, bEmpty := ra == "", rb == ""
	if aEmpty && bEmpty {
		return 0
	}
	if aEmpty {
		d.warn.warn("debian", a, "empty remainder after stripping package prefix")
		return -1
	}
	if bEmpty {
		d.warn.warn("debian", b, "empty remainder after stripping package prefix")
		return 1
	}

	return dpkgCompare(ra, rb)
}

// dpkgCompare implements the dpkg --compare-versions algorithm over
// "upstream_version[-debian_revision]" strings (no epoch component, since
// the core's version strings never carry one).
func dpkgCompare(a, b string) int {
	aUpstream, aRevision := splitRevision(a)
	bUpstream, bRevision := splitRevision(b)

	if c := verrevcmp(aUpstream, bUpstream); c != 0 {
		return c
	}
	return verrevcmp(aRevision, bRevision)
}

// splitRevision splits at the last '-' into (upstream, revision); with no
// '-', revision is empty (dpkg treats a missing revision as "0").
func splitRevision(v string) (upstream, revision string) {
	idx := strings.LastIndex(v, "-")
	if idx < 0 {
		return v, ""
	}
	return v[:idx], v[idx+1:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// order assigns dpkg's comparison weight to a single byte, including the
// string terminator (represented here by byteAt returning 0 past the end
// of the string): '~' sorts lowest of all, the terminator and digits sort
// next (equal weight), then letters, then every other byte sorts above
// letters by its own value.
func order(c byte) int {
	switch {
	case c == '~':
		return -1
	case c == 0:
		return 0
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	default:
		return int(c) + 256
	}
}

func byteAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

// verrevcmp is a direct transliteration of dpkg's verrevcmp(): alternating
// runs of non-digits (compared byte-by-byte via order(): '~' lowest, then
// string-end, then letters, then other bytes) and digits (compared numerically,
// first differing digit position wins only if the runs are equal length).
func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := order(byteAt(a, i)), order(byteAt(b, j))
			if ac != bc {
				return sign(ac - bc)
			}
			i++
			j++
		}

		for byteAt(a, i) == '0' {
			i++
		}
		for byteAt(b, j) == '0' {
			j++
		}

		firstDiff := 0
		for isDigit(byteAt(a, i)) && isDigit(byteAt(b, j)) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}

		if isDigit(byteAt(a, i)) {
			return 1
		}
		if isDigit(byteAt(b, j)) {
			return -1
		}
		if firstDiff != 0 {
			return sign(firstDiff)
		}
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
