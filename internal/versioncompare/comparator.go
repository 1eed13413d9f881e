// Package versioncompare provides total orderings over artifact version
// strings, one comparator per artifact kind / Docker tag strategy.
package versioncompare

import (
	"log/slog"

	"github.com/deliveryctl/core/internal/domain"
)

// Comparator is a strict total ordering over version strings. Compare
// returns a negative number if a ranks lower than b, zero if equal rank,
// and a positive number if a ranks higher than b — the same convention as
// sort.Slice's less function, inverted for descending ("newest first")
// sort: callers sort with Compare(a, b) > 0 meaning a comes first.
type Comparator interface {
	Compare(a, b string) int
}

// ForArtifact returns the comparator for an artifact's configured
// versioning strategy. Logger receives warn-level diagnostics on
// unparseable input, rate-limited to once per distinct input value.
func ForArtifact(a domain.Artifact, logger *slog.Logger) (Comparator, error) {
	switch a.Strategy.Kind {
	case domain.VersioningStrategyDebian:
		return NewDebianComparator(logger), nil
	case domain.VersioningStrategyDockerIncreasingTag:
		return NewDockerComparator(DockerIncreasingInteger, "", logger)
	case domain.VersioningStrategyDockerSemver:
		return NewDockerComparator(DockerSemver, "", logger)
	case domain.VersioningStrategyDockerBranchQualified:
		return NewDockerComparator(DockerBranchQualified, "", logger)
	case domain.VersioningStrategyDockerCustomRegex:
		return NewDockerComparator(DockerCustomRegex, a.Strategy.CustomRegex, logger)
	default:
		return NewDebianComparator(logger), nil
	}
}

// SortDescending sorts versions newest-first under comparator c, using a
// stable sort so ties (equal rank) preserve their relative input order.
func SortDescending(versions []string, c Comparator) {
	stableSortDescending(versions, c)
}
