package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// GiteaClient drives a Gitea (or Forgejo) container registry. Package
// enumeration and deletion use the Gitea packages API, where every
// container package version is addressable by tag name or digest, so
// individual tags can be deleted without touching siblings. Manifest
// content comes from the host's /v2 endpoint.
type GiteaClient struct {
	transport *Transport
	baseURL   string
	owner     string
	username  string
	token     string
	api       *v2api
}

// NewGiteaClient builds an adapter for the Gitea instance at baseURL.
func NewGiteaClient(baseURL, owner, username, token string, transport *Transport) *GiteaClient {
	c := &GiteaClient{
		transport: transport,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		owner:     owner,
		username:  username,
		token:     token,
	}
	c.api = &v2api{transport: transport, baseURL: c.baseURL, headers: c.v2Headers}
	return c
}

func (c *GiteaClient) apiHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "token "+c.token)
	return h
}

func (c *GiteaClient) v2Headers() http.Header {
	h := http.Header{}
	user := c.username
	if user == "" {
		user = c.owner
	}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+c.token)))
	return h
}

// Authenticate verifies the token against the packages listing.
func (c *GiteaClient) Authenticate(ctx context.Context) error {
	u := fmt.Sprintf("%s/api/v1/packages/%s?type=container&limit=1", c.baseURL, url.PathEscape(c.owner))
	resp, err := c.transport.Do(ctx, http.MethodGet, u, c.apiHeaders(), nil)
	if err != nil {
		return &AuthError{Backend: "gitea", Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Backend: "gitea", Err: fmt.Errorf("token rejected (status %d)", resp.StatusCode)}
	}
	if !resp.OK() {
		return &AuthError{Backend: "gitea", Err: fmt.Errorf("packages API unreachable (status %d)", resp.StatusCode)}
	}
	return nil
}

// giteaVersion is one row of the packages listing; Gitea returns one
// entry per package version.
type giteaVersion struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"` // tag name or digest
	CreatedAt time.Time `json:"created_at"`
}

func (c *GiteaClient) listVersions(ctx context.Context) ([]giteaVersion, error) {
	var versions []giteaVersion
	page := 1
	for {
		u := fmt.Sprintf("%s/api/v1/packages/%s?type=container&limit=50&page=%d",
			c.baseURL, url.PathEscape(c.owner), page)
		resp, err := c.transport.Do(ctx, http.MethodGet, u, c.apiHeaders(), nil)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &Error{Op: "list packages", StatusCode: resp.StatusCode}
		}
		var batch []giteaVersion
		if err := resp.DecodeJSON(&batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return versions, nil
		}
		versions = append(versions, batch...)
		page++
	}
}

// ListPackages collapses the per-version listing into distinct packages.
func (c *GiteaClient) ListPackages(ctx context.Context) ([]*Package, error) {
	versions, err := c.listVersions(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]*Package{}
	var packages []*Package
	for _, v := range versions {
		if p, ok := seen[v.Name]; ok {
			if v.CreatedAt.Before(p.CreatedAt) {
				p.CreatedAt = v.CreatedAt
			}
			continue
		}
		p := &Package{ID: v.ID, Name: v.Name, Type: "container", Owner: c.owner, CreatedAt: v.CreatedAt}
		seen[v.Name] = p
		packages = append(packages, p)
	}
	return packages, nil
}

// repoName is the /v2 repository path for a package.
func (c *GiteaClient) repoName(pkg *Package) string {
	return strings.ToLower(c.owner + "/" + pkg.Name)
}

// ListTags resolves each non-digest version name through the /v2
// endpoint to obtain its digest binding.
func (c *GiteaClient) ListTags(ctx context.Context, pkg *Package) ([]Tag, error) {
	versions, err := c.listVersions(ctx)
	if err != nil {
		return nil, err
	}
	var tags []Tag
	for _, v := range versions {
		if v.Name != pkg.Name {
			continue
		}
		if digest.Digest(v.Version).Validate() == nil {
			continue // digest-named version, not a tag
		}
		dgst, err := c.api.resolve(ctx, c.repoName(pkg), v.Version)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		tags = append(tags, Tag{Name: v.Version, Digest: dgst, CreatedAt: v.CreatedAt})
	}
	return tags, nil
}

// GetManifest fetches manifest content from the /v2 endpoint.
func (c *GiteaClient) GetManifest(ctx context.Context, pkg *Package, reference string) (*Manifest, error) {
	return c.api.manifest(ctx, c.repoName(pkg), reference)
}

// GetPackageManifests surfaces every version of the package, including
// digest-named ones the tag listing misses. Gitea keeps version rows for
// manifests whose content is gone; those come back as bare manifests so
// ghost classification still sees the digest.
func (c *GiteaClient) GetPackageManifests(ctx context.Context, pkg *Package) ([]*Manifest, error) {
	versions, err := c.listVersions(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[digest.Digest]bool{}
	var manifests []*Manifest
	for _, v := range versions {
		if v.Name != pkg.Name {
			continue
		}
		var dgst digest.Digest
		if d := digest.Digest(v.Version); d.Validate() == nil {
			dgst = d
		} else {
			resolved, err := c.api.resolve(ctx, c.repoName(pkg), v.Version)
			if err != nil {
				continue
			}
			dgst = resolved
		}
		if seen[dgst] {
			continue
		}
		seen[dgst] = true

		m, err := c.api.manifest(ctx, c.repoName(pkg), dgst.String())
		if err != nil {
			m = &Manifest{Digest: dgst}
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = v.CreatedAt
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func (c *GiteaClient) deleteVersion(ctx context.Context, pkg *Package, version string) error {
	u := fmt.Sprintf("%s/api/v1/packages/%s/container/%s/%s",
		c.baseURL, url.PathEscape(c.owner), url.PathEscape(pkg.Name), url.PathEscape(version))
	resp, err := c.transport.Do(ctx, http.MethodDelete, u, c.apiHeaders(), nil)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Resource: fmt.Sprintf("%s/%s", pkg.Name, version)}
	case !resp.OK():
		return &Error{Op: fmt.Sprintf("delete %s/%s", pkg.Name, version), StatusCode: resp.StatusCode}
	}
	return nil
}

// DeleteTag removes a single tag version; sibling tags on the same
// manifest are untouched, so the batch parameter is not needed here.
func (c *GiteaClient) DeleteTag(ctx context.Context, pkg *Package, tag string, _ []string) error {
	return c.deleteVersion(ctx, pkg, tag)
}

// DeleteManifest removes the digest-named version.
func (c *GiteaClient) DeleteManifest(ctx context.Context, pkg *Package, dgst digest.Digest) error {
	return c.deleteVersion(ctx, pkg, dgst.String())
}

// GetReferrers queries the /v2 referrers endpoint; Gitea without it
// answers 404, which maps to an empty list.
func (c *GiteaClient) GetReferrers(ctx context.Context, pkg *Package, dgst digest.Digest) ([]Referrer, error) {
	return c.api.referrers(ctx, c.repoName(pkg), dgst)
}

// Supports reports Gitea capabilities.
func (c *GiteaClient) Supports(feature Capability) bool {
	switch feature {
	case CapMultiArch, CapReferrers:
		return true
	}
	return false
}

// KnownRegistryURLs lists hosts auto-detection maps to this adapter.
func (c *GiteaClient) KnownRegistryURLs() []string {
	return []string{"gitea.com", "codeberg.org"}
}
