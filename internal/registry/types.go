package registry

import (
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Package is a logical repository/image name as reported by the backend.
// Immutable once discovered.
type Package struct {
	ID        int64
	Name      string
	Type      string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChildDescriptor describes one platform entry of an index manifest.
type ChildDescriptor struct {
	Digest    digest.Digest
	MediaType string
	Size      int64
	Platform  *ocispec.Platform
}

// Manifest is a content-addressed artifact descriptor. Digest is the
// identity: two manifests with the same digest are the same artifact no
// matter how many tags point at them.
type Manifest struct {
	Digest      digest.Digest
	MediaType   string
	Size        int64
	Config      *ocispec.Descriptor
	Layers      []ocispec.Descriptor
	Children    []ChildDescriptor
	Annotations map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsIndex reports whether the manifest declares platform children.
func (m *Manifest) IsIndex() bool {
	return len(m.Children) > 0
}

// Tag is a mutable name→digest binding. Several tags may share a digest.
type Tag struct {
	Name      string
	Digest    digest.Digest
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Referrer is an artifact (attestation, signature, SBOM) whose manifest
// names another digest as its subject.
type Referrer struct {
	Digest       digest.Digest
	ArtifactType string
	MediaType    string
	Size         int64
	Annotations  map[string]string
}

// Image is the engine's working unit: one package, one manifest, and the
// tags currently bound to that manifest. Exactly one Image exists per
// distinct digest within a package during a discovery pass; tags seen by
// later discovery calls are merged onto the existing Image.
//
// MultiArch and Children are derived by the relationship graph, not by
// discovery. Placeholder marks an Image synthesized for a digest that an
// index manifest declares but that discovery could not resolve (a ghost
// candidate); its Manifest holds only the declared digest/media type.
type Image struct {
	Package     *Package
	Manifest    *Manifest
	Tags        []Tag
	Referrers   []Referrer
	MultiArch   bool
	Children    []*Image
	Placeholder bool
}

// Digest returns the manifest digest identifying this image.
func (i *Image) Digest() digest.Digest {
	return i.Manifest.Digest
}

// Tagged reports whether any tag currently binds to this image.
func (i *Image) Tagged() bool {
	return len(i.Tags) > 0
}

// TagNames returns the bound tag names in discovery order.
func (i *Image) TagNames() []string {
	names := make([]string, len(i.Tags))
	for n, t := range i.Tags {
		names[n] = t.Name
	}
	return names
}

// HasTag reports whether a tag with the given name binds to this image.
func (i *Image) HasTag(name string) bool {
	for _, t := range i.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// AddTag merges a tag binding, ignoring duplicates by name.
func (i *Image) AddTag(tag Tag) {
	if i.HasTag(tag.Name) {
		return
	}
	i.Tags = append(i.Tags, tag)
}

// CreatedAt returns the manifest creation time, falling back to the
// earliest tag time. Zero means unknown.
func (i *Image) CreatedAt() time.Time {
	if !i.Manifest.CreatedAt.IsZero() {
		return i.Manifest.CreatedAt
	}
	var earliest time.Time
	for _, t := range i.Tags {
		if t.CreatedAt.IsZero() {
			continue
		}
		if earliest.IsZero() || t.CreatedAt.Before(earliest) {
			earliest = t.CreatedAt
		}
	}
	return earliest
}

// SortTime returns the recency key used by keep-N ordering: updatedAt,
// falling back to createdAt, falling back to the zero time.
func (i *Image) SortTime() time.Time {
	if !i.Manifest.UpdatedAt.IsZero() {
		return i.Manifest.UpdatedAt
	}
	for _, t := range i.Tags {
		if !t.UpdatedAt.IsZero() {
			return t.UpdatedAt
		}
	}
	return i.CreatedAt()
}
