package payload

import "github.com/deliveryctl/core/internal/domain"

// VersioningStrategyDispatcher selects Docker versus Debian versioning
// strategy variants: presence of "tagVersionStrategy" indicates a Docker
// artifact, otherwise Debian.
func VersioningStrategyDispatcher() *Dispatcher {
	return NewDispatcher(
		string(domain.VersioningStrategyDebian),
		DispatchRule{
			Variant: "docker",
			Predicate: func(fs FieldSet) bool {
				return fs.Has("tagVersionStrategy")
			},
		},
	)
}

// Container kind variants, distinguished by whether a resolved digest is
// present on the encoded object.
const (
	ContainerKindDigestPinned = "digest-pinned"
	ContainerKindVersionedTag = "versioned-tag"
)

// ContainerKindDispatcher selects between a digest-pinned container
// reference and a versioned-tag reference: presence of "digest" means
// digest-pinned.
func ContainerKindDispatcher() *Dispatcher {
	return NewDispatcher(
		ContainerKindVersionedTag,
		DispatchRule{
			Variant: ContainerKindDigestPinned,
			Predicate: func(fs FieldSet) bool {
				return fs.Has("digest")
			},
		},
	)
}
