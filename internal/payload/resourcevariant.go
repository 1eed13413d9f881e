package payload

import "k8s.io/apimachinery/pkg/runtime/schema"

// ResourceTypeIdentifier maps a resource's (apiVersion, kind) to the
// concrete spec-variant tag its payload should decode into. Unlike the
// field-name rule lists above, (apiVersion, kind) is already a total,
// non-overlapping key space, so this is a direct registry lookup rather
// than an ordered predicate chain.
type ResourceTypeIdentifier struct {
	variants map[schema.GroupVersionKind]string
	Default  string
}

// NewResourceTypeIdentifier builds an identifier with an explicit
// (GVK -> variant tag) registry and a fallback for unknown GVKs.
func NewResourceTypeIdentifier(defaultVariant string) *ResourceTypeIdentifier {
	return &ResourceTypeIdentifier{variants: make(map[schema.GroupVersionKind]string), Default: defaultVariant}
}

// Register binds a GVK to a concrete variant tag.
func (r *ResourceTypeIdentifier) Register(gvk schema.GroupVersionKind, variant string) {
	r.variants[gvk] = variant
}

// VariantFor returns the concrete variant tag for gvk, or the identifier's
// default if gvk was never registered.
func (r *ResourceTypeIdentifier) VariantFor(gvk schema.GroupVersionKind) string {
	if v, ok := r.variants[gvk]; ok {
		return v
	}
	return r.Default
}
