// Package registry defines the data model, error taxonomy, and the
// capability interface every backend adapter implements, plus the
// adapters themselves.
package registry

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Capability names an optional backend feature. The engine never assumes
// a capability the adapter did not report.
type Capability string

const (
	CapMultiArch   Capability = "multi-arch"
	CapReferrers   Capability = "referrers"
	CapAttestation Capability = "attestation"
	CapCosign      Capability = "cosign"
)

// Client is the uniform contract between the cleanup engine and a
// registry backend. Adapters translate these calls into whatever wire
// protocol their backend speaks; the engine only ever branches on
// Supports, never on backend identity.
type Client interface {
	// Authenticate establishes credential state. Idempotent. A failure
	// is an *AuthError and fatal for the run.
	Authenticate(ctx context.Context) error

	// ListPackages enumerates all known packages. Backends that cannot
	// enumerate return an empty list and no error; the limitation is
	// logged, not failed.
	ListPackages(ctx context.Context) ([]*Package, error)

	// ListTags returns the current tag→digest bindings for a package.
	// Backends without digests in their tag listings resolve each tag
	// through a manifest fetch.
	ListTags(ctx context.Context, pkg *Package) ([]Tag, error)

	// GetManifest fetches a manifest by tag name or digest, including
	// child descriptors when it is an index.
	GetManifest(ctx context.Context, pkg *Package, reference string) (*Manifest, error)

	// GetPackageManifests returns every manifest reachable for the
	// package, including untagged ones that ListTags cannot surface.
	GetPackageManifests(ctx context.Context, pkg *Package) ([]*Manifest, error)

	// DeleteTag removes a single tag binding. batch carries every tag of
	// the same manifest being deleted in this run: an adapter that can
	// only delete whole manifests uses it to decide whether doing so is
	// safe, and must refuse with an error when tags outside the batch
	// still bind to the manifest. The check is best effort; the tag set
	// it compares against may be stale by the time the delete lands.
	DeleteTag(ctx context.Context, pkg *Package, tag string, batch []string) error

	// DeleteManifest removes a manifest and, on some backends, every tag
	// pointing at it. Callers must already have established it is safe.
	DeleteManifest(ctx context.Context, pkg *Package, dgst digest.Digest) error

	// GetReferrers returns referrer artifacts for a subject digest.
	// Adapters without CapReferrers return an empty list and no error.
	GetReferrers(ctx context.Context, pkg *Package, dgst digest.Digest) ([]Referrer, error)

	// Supports reports whether the backend implements a capability.
	Supports(c Capability) bool

	// KnownRegistryURLs lists host names this adapter recognizes, used
	// only by backend auto-detection.
	KnownRegistryURLs() []string
}
