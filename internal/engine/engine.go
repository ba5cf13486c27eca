// Package engine orchestrates a cleanup run: discover images through the
// capability interface, build the relationship graph, apply the filter
// pipeline, delete, and validate what remains. Fatal errors exist only
// before discovery completes; everything later degrades to per-item
// error accumulation.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/config"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/filter"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/graph"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/pattern"
)

// Result accumulates the outcome of a run. It is built incrementally and
// never discarded on partial failure.
type Result struct {
	DryRun           bool
	DeletedManifests int
	DeletedTags      []string
	KeptTags         []string
	Errors           []string
}

// Failed reports whether the run completed with non-fatal errors. A real
// run with errors must be surfaced as failed even though partial cleanup
// succeeded.
func (r *Result) Failed() bool {
	return !r.DryRun && len(r.Errors) > 0
}

func (r *Result) addError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	r.Errors = append(r.Errors, msg)
}

// Engine drives the cleanup pipeline against one backend client.
type Engine struct {
	client  registry.Client
	cfg     *config.Config
	exclude []*pattern.Pattern
	runID   string
}

// New builds an engine. The config must already have passed CheckValid.
func New(client registry.Client, cfg *config.Config) (*Engine, error) {
	exclude, err := pattern.CompileAll(cfg.ExcludeTags)
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:  client,
		cfg:     cfg,
		exclude: exclude,
		runID:   uuid.NewString(),
	}, nil
}

// Run executes the full pipeline. The returned Result is valid even when
// err is non-nil; err is only set for fatal conditions (authentication,
// total discovery failure).
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	result := &Result{DryRun: e.cfg.DryRun}
	log := logger.GetLogger().With("run", e.runID)

	if err := e.client.Authenticate(ctx); err != nil {
		return result, err
	}

	log.Info("Discovering packages", "phase", "discover")
	packages, err := e.resolvePackages(ctx)
	if err != nil {
		return result, err
	}
	if len(packages) == 0 {
		log.Warn("No packages to clean")
		return result, nil
	}

	for _, pkg := range packages {
		images := e.discoverPackage(ctx, pkg, result)
		if len(images) == 0 {
			continue
		}
		g := graph.New(images)

		log.Info("Filtering images", "phase", "filter", "package", pkg.Name, "images", len(images))
		candidates, err := filter.Apply(g, e.cfg.FilterPolicy(), nowFunc())
		if err != nil {
			// Patterns were validated pre-flight; this is defensive.
			result.addError("filtering %s: %v", pkg.Name, err)
			continue
		}

		deleted := e.deletePhase(ctx, pkg, candidates, result)

		if e.cfg.Validate {
			e.validatePhase(g, pkg, deleted)
		}
		e.recordKept(pkg, images, deleted, result)
	}

	log.Info("Run complete", "phase", "done",
		"deletedManifests", result.DeletedManifests,
		"deletedTags", len(result.DeletedTags),
		"errors", len(result.Errors))
	return result, nil
}

// resolvePackages expands the configured package names. Wildcard entries
// need the backend to enumerate; explicit names are taken as-is.
func (e *Engine) resolvePackages(ctx context.Context) ([]*registry.Package, error) {
	names := e.cfg.Packages

	wantsAll := len(names) == 0
	wantsExpansion := false
	var literals []string
	var globs []string
	for _, name := range names {
		if containsGlob(name) {
			wantsExpansion = true
			globs = append(globs, name)
		} else {
			literals = append(literals, name)
		}
	}

	var resolved []*registry.Package
	seen := map[string]bool{}
	add := func(p *registry.Package) {
		if !seen[p.Name] {
			seen[p.Name] = true
			resolved = append(resolved, p)
		}
	}

	if wantsAll || wantsExpansion {
		enumerated, err := e.client.ListPackages(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerating packages: %w", err)
		}
		if len(enumerated) == 0 && (wantsAll || wantsExpansion) {
			logger.Warn("Backend returned no packages to enumerate")
		}
		if wantsAll {
			return enumerated, nil
		}
		patterns, err := pattern.CompileAll(globs)
		if err != nil {
			return nil, err
		}
		for _, p := range enumerated {
			if pattern.MatchAny(patterns, p.Name) {
				add(p)
			}
		}
	}

	for _, name := range literals {
		add(&registry.Package{Name: name, Type: "container", Owner: e.cfg.Owner})
	}
	return resolved, nil
}

func containsGlob(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' {
			return true
		}
	}
	return false
}

// discoverPackage assembles the package's image set: one Image per
// distinct digest, tags merged on, referrers attached when supported,
// and placeholder images synthesized for declared-but-missing children.
// Failures here are per-package and never abort the run.
func (e *Engine) discoverPackage(ctx context.Context, pkg *registry.Package, result *Result) []*registry.Image {
	byDigest := map[digest.Digest]*registry.Image{}
	var images []*registry.Image

	ensure := func(m *registry.Manifest) *registry.Image {
		if img, ok := byDigest[m.Digest]; ok {
			mergeManifest(img.Manifest, m)
			return img
		}
		img := &registry.Image{Package: pkg, Manifest: m}
		byDigest[m.Digest] = img
		images = append(images, img)
		return img
	}

	tags, err := e.client.ListTags(ctx, pkg)
	if err != nil {
		// Not fatal: untagged discovery below may still find manifests.
		result.addError("listing tags for %s: %v", pkg.Name, err)
		tags = nil
	}
	for _, tag := range tags {
		m, err := e.client.GetManifest(ctx, pkg, tag.Name)
		if err != nil {
			if registry.IsNotFound(err) {
				// Tag disappeared mid-run.
				logger.Debug("Tag vanished during discovery", "package", pkg.Name, "tag", tag.Name)
				continue
			}
			result.addError("fetching manifest %s:%s: %v", pkg.Name, tag.Name, err)
			continue
		}
		img := ensure(m)
		img.AddTag(tag)
	}

	manifests, err := e.client.GetPackageManifests(ctx, pkg)
	if err != nil {
		result.addError("listing manifests for %s: %v", pkg.Name, err)
	}
	for _, m := range manifests {
		ensure(m)
	}

	// Declared children nothing resolved: ghost candidates.
	for _, img := range images {
		for _, child := range img.Manifest.Children {
			if _, ok := byDigest[child.Digest]; ok {
				continue
			}
			placeholder := &registry.Image{
				Package: pkg,
				Manifest: &registry.Manifest{
					Digest:    child.Digest,
					MediaType: child.MediaType,
					Size:      child.Size,
				},
				Placeholder: true,
			}
			byDigest[child.Digest] = placeholder
			images = append(images, placeholder)
		}
	}

	if e.client.Supports(registry.CapReferrers) {
		for _, img := range images {
			if img.Placeholder {
				continue
			}
			refs, err := e.client.GetReferrers(ctx, pkg, img.Digest())
			if err != nil {
				// Tolerated silently apart from debug logging.
				logger.Debug("Referrer fetch failed", "package", pkg.Name, "digest", img.Digest(), "error", err)
				continue
			}
			img.Referrers = refs
		}
	}

	logger.Debug("Discovered package", "package", pkg.Name, "images", len(images), "tags", len(tags))
	return images
}

// mergeManifest fills gaps in dst with data from src without ever
// changing the digest identity.
func mergeManifest(dst, src *registry.Manifest) {
	if dst.MediaType == "" {
		dst.MediaType = src.MediaType
	}
	if len(dst.Children) == 0 {
		dst.Children = src.Children
	}
	if dst.Config == nil {
		dst.Config = src.Config
	}
	if len(dst.Layers) == 0 {
		dst.Layers = src.Layers
	}
	if dst.Annotations == nil {
		dst.Annotations = src.Annotations
	}
	if dst.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if dst.UpdatedAt.IsZero() {
		dst.UpdatedAt = src.UpdatedAt
	}
	if dst.Size == 0 {
		dst.Size = src.Size
	}
}
