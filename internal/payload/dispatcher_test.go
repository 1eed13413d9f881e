package payload

import (
	"testing"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestVersioningStrategyDispatcher(t *testing.T) {
	d := VersioningStrategyDispatcher()

	docker := NewFieldSet(map[string]any{"tagVersionStrategy": "semver"})
	if got := d.Dispatch(docker); got != "docker" {
		t.Fatalf("Dispatch(docker fields) = %q, want %q", got, "docker")
	}

	debian := NewFieldSet(map[string]any{"versionString": "1.0.0"})
	if got := d.Dispatch(debian); got != "debian" {
		t.Fatalf("Dispatch(debian fields) = %q, want %q", got, "debian")
	}
}

func TestContainerKindDispatcher(t *testing.T) {
	d := ContainerKindDispatcher()

	pinned := NewFieldSet(map[string]any{"digest": "sha256:abc"})
	if got := d.Dispatch(pinned); got != ContainerKindDigestPinned {
		t.Fatalf("Dispatch(digest fields) = %q, want %q", got, ContainerKindDigestPinned)
	}

	tagged := NewFieldSet(map[string]any{"tag": "latest"})
	if got := d.Dispatch(tagged); got != ContainerKindVersionedTag {
		t.Fatalf("Dispatch(tag fields) = %q, want %q", got, ContainerKindVersionedTag)
	}
}

func TestResourceTypeIdentifier(t *testing.T) {
	id := NewResourceTypeIdentifier("unknown")
	clusterGVK := schema.GroupVersionKind{Group: "ec2", Version: "v1", Kind: "cluster"}
	id.Register(clusterGVK, "ec2-cluster")

	if got := id.VariantFor(clusterGVK); got != "ec2-cluster" {
		t.Fatalf("VariantFor(registered) = %q, want %q", got, "ec2-cluster")
	}

	unregistered := schema.GroupVersionKind{Group: "rds", Version: "v1", Kind: "instance"}
	if got := id.VariantFor(unregistered); got != "unknown" {
		t.Fatalf("VariantFor(unregistered) = %q, want %q", got, "unknown")
	}
}
