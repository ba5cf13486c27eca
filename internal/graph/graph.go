// Package graph computes the relationships between discovered images:
// multi-arch parent/child edges, referrer edges, and the derived
// ghost/partial/orphan classifications the filters select on.
package graph

import (
	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
)

// Graph indexes a package's image set by digest. The flat image slice
// remains the owner of every Image; parents hold child references into
// it, never copies.
type Graph struct {
	images   []*registry.Image
	byDigest map[digest.Digest]*registry.Image
}

// New builds the graph and resolves multi-arch structure: every image
// whose manifest declares children gets MultiArch set and its resolvable
// children attached. Placeholder images never become parents.
func New(images []*registry.Image) *Graph {
	g := &Graph{
		images:   images,
		byDigest: make(map[digest.Digest]*registry.Image, len(images)),
	}
	for _, img := range images {
		g.byDigest[img.Digest()] = img
	}

	for _, img := range images {
		if img.Placeholder || !img.Manifest.IsIndex() {
			continue
		}
		img.MultiArch = true
		img.Children = img.Children[:0]
		for _, child := range img.Manifest.Children {
			if resolved, ok := g.byDigest[child.Digest]; ok && !resolved.Placeholder {
				img.Children = append(img.Children, resolved)
			}
		}
	}
	return g
}

// Images returns the flat image set the graph was built over.
func (g *Graph) Images() []*registry.Image {
	return g.images
}

// ByDigest looks an image up by manifest digest.
func (g *Graph) ByDigest(dgst digest.Digest) (*registry.Image, bool) {
	img, ok := g.byDigest[dgst]
	return img, ok
}

// FindParents returns every multi-arch image whose manifest declares the
// given image's digest as a child. Linear in the image count, which is
// bounded per package.
func (g *Graph) FindParents(img *registry.Image) []*registry.Image {
	var parents []*registry.Image
	for _, candidate := range g.images {
		if candidate == img || !candidate.Manifest.IsIndex() {
			continue
		}
		for _, child := range candidate.Manifest.Children {
			if child.Digest == img.Digest() {
				parents = append(parents, candidate)
				break
			}
		}
	}
	return parents
}

// IsChild reports whether the image is a declared child of any
// multi-arch parent in the set.
func (g *Graph) IsChild(img *registry.Image) bool {
	return len(g.FindParents(img)) > 0
}

// IsResolvedChild reports whether the image is attached as a resolved
// child of some multi-arch parent. Such images are deleted through their
// parent, never independently; dangling declared digests (ghosts) do
// not count.
func (g *Graph) IsResolvedChild(img *registry.Image) bool {
	for _, candidate := range g.images {
		for _, child := range candidate.Children {
			if child == img {
				return true
			}
		}
	}
	return false
}

// IsPartial reports whether a multi-arch image declares more children
// than discovery could resolve, meaning a platform variant is missing.
func (g *Graph) IsPartial(img *registry.Image) bool {
	if !img.MultiArch {
		return false
	}
	return len(img.Manifest.Children) > len(img.Children)
}

// IsReferrer reports whether some other image's referrer list carries
// this image's digest: it is an attestation/signature/SBOM artifact.
// These routinely have no tags and must not be mistaken for orphans.
func (g *Graph) IsReferrer(img *registry.Image) bool {
	for _, other := range g.images {
		if other == img {
			continue
		}
		for _, ref := range other.Referrers {
			if ref.Digest == img.Digest() {
				return true
			}
		}
	}
	return false
}

// IsOrphaned reports whether nothing reaches the image: no tags, no
// declaring parent, and no referrer relationship. Tag presence and
// referrer status suppress the classification unconditionally.
func (g *Graph) IsOrphaned(img *registry.Image) bool {
	if img.Tagged() || img.Placeholder || g.IsReferrer(img) {
		return false
	}
	return !g.IsChild(img)
}

// IsGhost reports whether the image stands for a digest some parent
// declares but that no discovered artifact backs: a dangling child
// reference. Only placeholder images synthesized for unresolvable
// declared children qualify; tag presence and referrer status suppress
// the classification unconditionally.
func (g *Graph) IsGhost(img *registry.Image) bool {
	if img.Tagged() || g.IsReferrer(img) {
		return false
	}
	return img.Placeholder && g.IsChild(img)
}
