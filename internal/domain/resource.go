package domain

import (
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Resource is a declarative object managed by the control plane. Id is
// caller-supplied and unique; Uid is assigned on first store (a
// lexicographically sortable id) and stable across later updates to the
// same Id. Metadata and Spec are opaque structured payloads whose concrete
// variant is identified by GVK.
type Resource struct {
	Uid         string `validate:"required"`
	Id          string `validate:"required"`
	GVK         schema.GroupVersionKind
	Application string          `validate:"required"`
	Metadata    map[string]any
	Spec        map[string]any
}

// ResourceHeader is the lightweight projection streamed by allResources:
// just enough to identify a resource without decoding its payload.
type ResourceHeader struct {
	Id  string
	GVK schema.GroupVersionKind
}

// ResourceSummary is the per-resource projection returned by
// getSummaryByApplication, computed from the resource's own
// summarization contract (here: its GVK-derived kind plus a caller-opaque
// status blob carried in Metadata).
type ResourceSummary struct {
	Id     string
	Kind   string
	Status string
}

// ResourceEventKind discriminates the shape of ResourceEvent.Payload.
type ResourceEventKind string

// ResourceEvent is an append-only history entry for a resource.
type ResourceEvent struct {
	ResourceUid string            `validate:"required"`
	Timestamp   time.Time         `validate:"required"`
	Kind        ResourceEventKind `validate:"required"`
	Payload     map[string]any

	// SuppressRepeats, when true, asks appendHistory to silently drop
	// this event if the most recent event for the same resource has the
	// same Kind.
	SuppressRepeats bool
}
