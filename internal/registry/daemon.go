package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

// DaemonClient cleans images held by a local Docker (or compatible)
// daemon. The daemon flattens multi-arch indexes at pull time and knows
// nothing about referrers, so the only structure visible here is
// repository → tag → image ID. Image IDs stand in for manifest digests.
type DaemonClient struct {
	cli client.APIClient
}

// NewDaemonClient connects to the daemon at host, or the environment's
// default when host is empty.
func NewDaemonClient(host string) (*DaemonClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DaemonClient{cli: cli}, nil
}

// NewDaemonClientWithAPI wraps an existing API client, used by tests.
func NewDaemonClientWithAPI(cli client.APIClient) *DaemonClient {
	return &DaemonClient{cli: cli}
}

// Authenticate pings the daemon; there are no credentials to establish.
func (c *DaemonClient) Authenticate(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return &AuthError{Backend: "daemon", Err: err}
	}
	return nil
}

// repoOf extracts the familiar repository name from a repo:tag pair.
func repoOf(repoTag string) (string, string, bool) {
	named, err := reference.ParseNormalizedNamed(repoTag)
	if err != nil {
		return "", "", false
	}
	tag := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	return reference.FamiliarName(named), tag, true
}

// ListPackages groups local images into one package per repository name.
func (c *DaemonClient) ListPackages(ctx context.Context) ([]*Package, error) {
	summaries, err := c.cli.ImageList(ctx, image.ListOptions{All: false})
	if err != nil {
		return nil, err
	}
	seen := map[string]*Package{}
	var packages []*Package
	for _, s := range summaries {
		for _, repoTag := range s.RepoTags {
			repo, _, ok := repoOf(repoTag)
			if !ok || repo == "<none>" {
				continue
			}
			if _, dup := seen[repo]; dup {
				continue
			}
			p := &Package{Name: repo, Type: "container", CreatedAt: time.Unix(s.Created, 0)}
			seen[repo] = p
			packages = append(packages, p)
		}
	}
	return packages, nil
}

// summariesFor lists image summaries whose repo tags or repo digests
// belong to the package.
func (c *DaemonClient) summariesFor(ctx context.Context, pkg *Package) ([]image.Summary, error) {
	summaries, err := c.cli.ImageList(ctx, image.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("reference", pkg.Name)),
	})
	if err != nil {
		return nil, err
	}
	if len(summaries) > 0 {
		return summaries, nil
	}
	// The reference filter misses dangling images; fall back to a full
	// list and match repo digests by hand.
	all, err := c.cli.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, err
	}
	var matched []image.Summary
	for _, s := range all {
		for _, rd := range s.RepoDigests {
			if strings.HasPrefix(rd, pkg.Name+"@") {
				matched = append(matched, s)
				break
			}
		}
	}
	return matched, nil
}

// ListTags maps each repo:tag of the package to the image ID behind it.
func (c *DaemonClient) ListTags(ctx context.Context, pkg *Package) ([]Tag, error) {
	summaries, err := c.summariesFor(ctx, pkg)
	if err != nil {
		return nil, err
	}
	var tags []Tag
	for _, s := range summaries {
		id := digest.Digest(s.ID)
		if id.Validate() != nil {
			continue
		}
		for _, repoTag := range s.RepoTags {
			repo, tag, ok := repoOf(repoTag)
			if !ok || repo != pkg.Name {
				continue
			}
			tags = append(tags, Tag{Name: tag, Digest: id, CreatedAt: time.Unix(s.Created, 0)})
		}
	}
	return tags, nil
}

// GetManifest synthesizes a manifest from the daemon's image inspect
// output. The daemon stores flattened images, so there are never child
// descriptors.
func (c *DaemonClient) GetManifest(ctx context.Context, pkg *Package, ref string) (*Manifest, error) {
	target := ref
	if digest.Digest(ref).Validate() != nil {
		target = pkg.Name + ":" + ref
	}
	inspect, _, err := c.cli.ImageInspectWithRaw(ctx, target)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, &NotFoundError{Resource: target}
		}
		return nil, err
	}

	m := &Manifest{
		Digest:    digest.Digest(inspect.ID),
		MediaType: "application/vnd.docker.container.image.v1+json",
		Size:      inspect.Size,
	}
	if created, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		m.CreatedAt = created
	}
	return m, nil
}

// GetPackageManifests surfaces every local image of the repository,
// including dangling ones.
func (c *DaemonClient) GetPackageManifests(ctx context.Context, pkg *Package) ([]*Manifest, error) {
	summaries, err := c.summariesFor(ctx, pkg)
	if err != nil {
		return nil, err
	}
	seen := map[digest.Digest]bool{}
	var manifests []*Manifest
	for _, s := range summaries {
		id := digest.Digest(s.ID)
		if id.Validate() != nil || seen[id] {
			continue
		}
		seen[id] = true
		manifests = append(manifests, &Manifest{
			Digest:    id,
			MediaType: "application/vnd.docker.container.image.v1+json",
			Size:      s.Size,
			CreatedAt: time.Unix(s.Created, 0),
		})
	}
	return manifests, nil
}

// DeleteTag untags repo:tag. The daemon only removes the underlying
// image when this was its last reference, so sibling tags are safe and
// the batch parameter is not needed.
func (c *DaemonClient) DeleteTag(ctx context.Context, pkg *Package, tag string, _ []string) error {
	_, err := c.cli.ImageRemove(ctx, pkg.Name+":"+tag, image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return &NotFoundError{Resource: pkg.Name + ":" + tag}
		}
		return err
	}
	return nil
}

// DeleteManifest removes the image by ID.
func (c *DaemonClient) DeleteManifest(ctx context.Context, pkg *Package, dgst digest.Digest) error {
	_, err := c.cli.ImageRemove(ctx, dgst.String(), image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return &NotFoundError{Resource: dgst.String()}
		}
		// Another tag may still reference the image.
		logger.Debug("Daemon refused image removal", "digest", dgst, "error", err)
		return err
	}
	return nil
}

// GetReferrers is a no-op: the daemon has no referrer store.
func (c *DaemonClient) GetReferrers(ctx context.Context, pkg *Package, dgst digest.Digest) ([]Referrer, error) {
	return nil, nil
}

// Supports reports no optional capabilities; the daemon sees only
// flattened single-platform images.
func (c *DaemonClient) Supports(Capability) bool {
	return false
}

// KnownRegistryURLs is empty; auto-detection selects the daemon from the
// URL scheme, not the host.
func (c *DaemonClient) KnownRegistryURLs() []string {
	return nil
}
