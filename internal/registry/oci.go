package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

// OCIClient talks to any registry implementing the OCI distribution API
// (registry:2, Harbor, Zot, ...). Credentials go out as Basic auth.
type OCIClient struct {
	api      *v2api
	username string
	password string
	// referrers support is probed once during Authenticate.
	hasReferrers bool
}

// NewOCIClient builds an adapter for a plain distribution registry.
func NewOCIClient(baseURL, username, password string, transport *Transport) *OCIClient {
	c := &OCIClient{username: username, password: password}
	c.api = &v2api{transport: transport, baseURL: baseURL, headers: c.authHeaders}
	return c
}

func (c *OCIClient) authHeaders() http.Header {
	h := http.Header{}
	if c.username != "" || c.password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		h.Set("Authorization", "Basic "+cred)
	}
	return h
}

// Authenticate pings /v2/ and probes referrers support.
func (c *OCIClient) Authenticate(ctx context.Context) error {
	status, err := c.api.ping(ctx)
	if err != nil {
		return &AuthError{Backend: "oci", Err: err}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthError{Backend: "oci", Err: fmt.Errorf("registry rejected credentials (status %d)", status)}
	}

	// A conforming registry answers the referrers endpoint with 200 and
	// an empty index even for an unknown subject, so only a 2xx on the
	// probe proves support; 404 means the endpoint is absent.
	probe := digest.FromString("referrers-probe")
	resp, err := c.api.transport.Do(ctx, http.MethodGet,
		c.api.url("/v2/%s/referrers/%s", "probe", probe), c.authHeaders(), nil)
	c.hasReferrers = err == nil && resp.OK()
	return nil
}

// ListPackages enumerates via /v2/_catalog when the registry allows it.
func (c *OCIClient) ListPackages(ctx context.Context) ([]*Package, error) {
	names, ok, err := c.api.catalog(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Warn("Registry does not expose a catalog, packages must be named explicitly")
		return nil, nil
	}
	packages := make([]*Package, 0, len(names))
	for _, name := range names {
		packages = append(packages, &Package{Name: name, Type: "container"})
	}
	return packages, nil
}

// ListTags resolves each tag to its digest with a HEAD request, since
// the distribution tag listing carries names only.
func (c *OCIClient) ListTags(ctx context.Context, pkg *Package) ([]Tag, error) {
	names, err := c.api.tags(ctx, pkg.Name)
	if err != nil {
		return nil, err
	}
	tags := make([]Tag, 0, len(names))
	for _, name := range names {
		dgst, err := c.api.resolve(ctx, pkg.Name, name)
		if err != nil {
			if IsNotFound(err) {
				// Tag disappeared between listing and resolution.
				logger.Debug("Tag vanished during listing", "package", pkg.Name, "tag", name)
				continue
			}
			return nil, err
		}
		tags = append(tags, Tag{Name: name, Digest: dgst})
	}
	return tags, nil
}

// GetManifest fetches a manifest by tag or digest.
func (c *OCIClient) GetManifest(ctx context.Context, pkg *Package, reference string) (*Manifest, error) {
	return c.api.manifest(ctx, pkg.Name, reference)
}

// GetPackageManifests walks every tag plus the children of every index.
// The distribution API has no listing of untagged manifests, so children
// of indexes are the only unreferenced digests we can surface here.
func (c *OCIClient) GetPackageManifests(ctx context.Context, pkg *Package) ([]*Manifest, error) {
	tags, err := c.ListTags(ctx, pkg)
	if err != nil {
		return nil, err
	}

	seen := map[digest.Digest]*Manifest{}
	for _, tag := range tags {
		if _, ok := seen[tag.Digest]; ok {
			continue
		}
		m, err := c.api.manifest(ctx, pkg.Name, tag.Digest.String())
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		seen[m.Digest] = m
		for _, child := range m.Children {
			if _, ok := seen[child.Digest]; ok {
				continue
			}
			cm, err := c.api.manifest(ctx, pkg.Name, child.Digest.String())
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return nil, err
			}
			seen[cm.Digest] = cm
		}
	}

	manifests := make([]*Manifest, 0, len(seen))
	for _, m := range seen {
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Digest < manifests[j].Digest })
	return manifests, nil
}

// DeleteTag falls back to whole-manifest deletion because the
// distribution API cannot remove a single tag. The fallback fires only
// when every tag currently bound to the digest is in the same deletion
// batch; a freshly re-listed tag set backs the check, so it is best
// effort against concurrent pushes.
func (c *OCIClient) DeleteTag(ctx context.Context, pkg *Package, tag string, batch []string) error {
	dgst, err := c.api.resolve(ctx, pkg.Name, tag)
	if err != nil {
		if IsNotFound(err) {
			return &NotFoundError{Resource: fmt.Sprintf("%s:%s", pkg.Name, tag)}
		}
		return err
	}

	current, err := c.ListTags(ctx, pkg)
	if err != nil {
		return fmt.Errorf("re-listing tags before manifest delete: %w", err)
	}
	inBatch := map[string]bool{}
	for _, b := range batch {
		inBatch[b] = true
	}
	for _, t := range current {
		if t.Digest == dgst && !inBatch[t.Name] {
			return fmt.Errorf("cannot delete tag %s:%s in isolation: tag %q shares manifest %s and is not being deleted",
				pkg.Name, tag, t.Name, dgst)
		}
	}
	return c.api.deleteManifest(ctx, pkg.Name, dgst)
}

// DeleteManifest removes the manifest, and with it every tag bound to it.
func (c *OCIClient) DeleteManifest(ctx context.Context, pkg *Package, dgst digest.Digest) error {
	return c.api.deleteManifest(ctx, pkg.Name, dgst)
}

// GetReferrers queries the referrers endpoint when the probe found one.
func (c *OCIClient) GetReferrers(ctx context.Context, pkg *Package, dgst digest.Digest) ([]Referrer, error) {
	if !c.hasReferrers {
		return nil, nil
	}
	return c.api.referrers(ctx, pkg.Name, dgst)
}

// Supports reports the distribution capabilities.
func (c *OCIClient) Supports(feature Capability) bool {
	switch feature {
	case CapMultiArch:
		return true
	case CapReferrers:
		return c.hasReferrers
	default:
		return false
	}
}

// KnownRegistryURLs is empty: the generic adapter is the fallback and
// claims no hosts of its own.
func (c *OCIClient) KnownRegistryURLs() []string {
	return nil
}
