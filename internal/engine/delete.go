package engine

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/filter"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/graph"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/pattern"
)

// nowFunc is swapped out by tests that pin the clock.
var nowFunc = time.Now

// deletePhase executes (or, in dry-run, reports) the deletion set and
// returns the digests whose manifests are gone afterwards.
func (e *Engine) deletePhase(ctx context.Context, pkg *registry.Package,
	candidates []*filter.Candidate, result *Result) map[digest.Digest]bool {

	deleted := map[digest.Digest]bool{}
	if len(candidates) == 0 {
		logger.Info("Nothing to delete", "package", pkg.Name)
		return deleted
	}

	if e.cfg.DryRun {
		for _, c := range candidates {
			logger.Info("Would delete", "package", pkg.Name, "digest", c.Image.Digest(), "tags", c.Tags)
			for _, tag := range c.Tags {
				result.DeletedTags = append(result.DeletedTags, pkg.Name+":"+tag)
			}
			result.DeletedManifests++
			deleted[c.Image.Digest()] = true
			for _, child := range c.Image.Children {
				result.DeletedManifests++
				deleted[child.Digest()] = true
			}
		}
		return deleted
	}

	logger.Info("Deleting images", "phase", "delete", "package", pkg.Name, "count", len(candidates))
	for _, c := range candidates {
		e.deleteImage(ctx, pkg, c, result, deleted)
	}
	return deleted
}

// deleteImage removes one deletion-set entry: its tags first, then the
// manifest when that is provably safe, then multi-arch children. Every
// failure is recorded and the run moves on.
func (e *Engine) deleteImage(ctx context.Context, pkg *registry.Package,
	c *filter.Candidate, result *Result, deleted map[digest.Digest]bool) {

	img := c.Image
	hadTags := img.Tagged()

	// The exclusion cross-check runs against the image's full discovered
	// tag list, not the filtered deletion list: a protected tag bound to
	// this digest forbids manifest deletion outright.
	excludedBefore := e.hasExcludedTag(img, nil)

	tagsDeleted := map[string]bool{}
	allTagsDeleted := true
	for _, tag := range c.Tags {
		err := e.client.DeleteTag(ctx, pkg, tag, c.Tags)
		if err != nil && !registry.IsNotFound(err) {
			result.addError("deleting tag %s:%s: %v", pkg.Name, tag, err)
			allTagsDeleted = false
			continue
		}
		// Already-gone counts as deleted.
		tagsDeleted[tag] = true
		result.DeletedTags = append(result.DeletedTags, pkg.Name+":"+tag)
		logger.Info("Deleted tag", "package", pkg.Name, "tag", tag)
	}

	// Re-verify after tag deletion: a backend may drop the manifest with
	// the last tag, taking a still-protected sibling tag with it. The
	// in-memory state is authoritative for this check.
	excludedAfter := e.hasExcludedTag(img, tagsDeleted)
	if excludedBefore != excludedAfter {
		logger.Warn("Excluded-tag state changed during deletion",
			"package", pkg.Name, "digest", img.Digest())
	}

	canDeleteManifest := !hadTags ||
		(allTagsDeleted && len(c.Tags) > 0 && !excludedBefore && !excludedAfter)
	if !canDeleteManifest {
		logger.Debug("Keeping manifest", "package", pkg.Name, "digest", img.Digest(),
			"allTagsDeleted", allTagsDeleted, "excluded", excludedBefore || excludedAfter)
		return
	}

	if err := e.client.DeleteManifest(ctx, pkg, img.Digest()); err != nil && !registry.IsNotFound(err) {
		result.addError("deleting manifest %s@%s: %v", pkg.Name, img.Digest(), err)
		return
	}
	deleted[img.Digest()] = true
	result.DeletedManifests++
	logger.Info("Deleted manifest", "package", pkg.Name, "digest", img.Digest())

	// Multi-arch children go after their parent, each failure recorded
	// independently.
	for _, child := range img.Children {
		if err := e.client.DeleteManifest(ctx, pkg, child.Digest()); err != nil && !registry.IsNotFound(err) {
			result.addError("deleting child manifest %s@%s: %v", pkg.Name, child.Digest(), err)
			continue
		}
		deleted[child.Digest()] = true
		result.DeletedManifests++
		logger.Info("Deleted child manifest", "package", pkg.Name, "digest", child.Digest())
	}
}

// hasExcludedTag reports whether any tag still bound to the image's
// manifest matches an exclude pattern, ignoring tags listed in removed.
func (e *Engine) hasExcludedTag(img *registry.Image, removed map[string]bool) bool {
	for _, tag := range img.Tags {
		if removed[tag.Name] {
			continue
		}
		if pattern.MatchAny(e.exclude, tag.Name) {
			return true
		}
	}
	return false
}

// validatePhase flags surviving multi-arch images whose declared child
// count no longer matches what discovery resolved. A mismatch is a
// warning, not an error: something outside this run removed a platform
// variant.
func (e *Engine) validatePhase(g *graph.Graph, pkg *registry.Package, deleted map[digest.Digest]bool) {
	logger.Info("Validating multi-arch images", "phase", "validate", "package", pkg.Name)
	for _, img := range g.Images() {
		if !img.MultiArch || deleted[img.Digest()] {
			continue
		}
		declared := len(img.Manifest.Children)
		resolved := len(img.Children)
		for _, child := range img.Children {
			if deleted[child.Digest()] {
				resolved--
			}
		}
		if declared != resolved {
			logger.Warn("Multi-arch image is missing platform variants",
				"package", pkg.Name, "digest", img.Digest(),
				"declared", declared, "resolved", resolved)
		}
	}
}

// recordKept appends the tags that survived the run to the result.
func (e *Engine) recordKept(pkg *registry.Package, images []*registry.Image,
	deleted map[digest.Digest]bool, result *Result) {

	removed := map[string]bool{}
	for _, name := range result.DeletedTags {
		removed[name] = true
	}
	for _, img := range images {
		if deleted[img.Digest()] {
			continue
		}
		for _, tag := range img.Tags {
			qualified := pkg.Name + ":" + tag.Name
			if !removed[qualified] {
				result.KeptTags = append(result.KeptTags, qualified)
			}
		}
	}
}
