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

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

const (
	githubAPIBase = "https://api.github.com"
	ghcrBase      = "https://ghcr.io"
)

// GitHubClient drives GitHub container packages. Enumeration, version
// metadata, and deletion go through the packages REST API; manifest
// content comes from ghcr.io's /v2 endpoint with a per-repository token
// exchange. GHCR cannot delete a tag in isolation, only whole package
// versions.
type GitHubClient struct {
	transport *Transport
	token     string
	owner     string
	ownerType string // "user" or "org", resolved during Authenticate
	pullToken map[string]string
}

// NewGitHubClient builds an adapter for ghcr.io under the given owner.
// An empty owner means the authenticated user.
func NewGitHubClient(owner, token string, transport *Transport) *GitHubClient {
	return &GitHubClient{
		transport: transport,
		token:     token,
		owner:     owner,
		pullToken: map[string]string{},
	}
}

func (c *GitHubClient) apiHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

// Authenticate verifies the token and resolves whether the owner is a
// user or an organization, which decides the API paths used later.
func (c *GitHubClient) Authenticate(ctx context.Context) error {
	resp, err := c.transport.Do(ctx, http.MethodGet, githubAPIBase+"/user", c.apiHeaders(), nil)
	if err != nil {
		return &AuthError{Backend: "github", Err: err}
	}
	if !resp.OK() {
		return &AuthError{Backend: "github", Err: fmt.Errorf("token rejected (status %d)", resp.StatusCode)}
	}
	var me struct {
		Login string `json:"login"`
	}
	if err := resp.DecodeJSON(&me); err != nil {
		return &AuthError{Backend: "github", Err: err}
	}

	if c.owner == "" || strings.EqualFold(c.owner, me.Login) {
		c.owner = me.Login
		c.ownerType = "user"
		return nil
	}

	resp, err = c.transport.Do(ctx, http.MethodGet, githubAPIBase+"/orgs/"+c.owner, c.apiHeaders(), nil)
	if err == nil && resp.OK() {
		c.ownerType = "org"
	} else {
		c.ownerType = "user"
	}
	return nil
}

// packagesBase returns the REST path prefix for the resolved owner.
func (c *GitHubClient) packagesBase() string {
	if c.ownerType == "org" {
		return fmt.Sprintf("%s/orgs/%s/packages", githubAPIBase, c.owner)
	}
	return fmt.Sprintf("%s/users/%s/packages", githubAPIBase, c.owner)
}

// ListPackages enumerates container packages for the owner.
func (c *GitHubClient) ListPackages(ctx context.Context) ([]*Package, error) {
	var packages []*Package
	next := c.packagesBase() + "?package_type=container&per_page=100"
	for next != "" {
		resp, err := c.transport.Do(ctx, http.MethodGet, next, c.apiHeaders(), nil)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &Error{Op: "list packages", StatusCode: resp.StatusCode}
		}
		var page []struct {
			ID        int64     `json:"id"`
			Name      string    `json:"name"`
			CreatedAt time.Time `json:"created_at"`
			UpdatedAt time.Time `json:"updated_at"`
		}
		if err := resp.DecodeJSON(&page); err != nil {
			return nil, err
		}
		for _, p := range page {
			packages = append(packages, &Package{
				ID:        p.ID,
				Name:      p.Name,
				Type:      "container",
				Owner:     c.owner,
				CreatedAt: p.CreatedAt,
				UpdatedAt: p.UpdatedAt,
			})
		}
		next = nextPageLink(resp.Header.Get("Link"))
	}
	return packages, nil
}

// packageVersion is one GHCR package version: a manifest digest plus the
// tags bound to it.
type packageVersion struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"` // the manifest digest
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  struct {
		Container struct {
			Tags []string `json:"tags"`
		} `json:"container"`
	} `json:"metadata"`
}

func (c *GitHubClient) versions(ctx context.Context, pkg *Package) ([]packageVersion, error) {
	var versions []packageVersion
	next := fmt.Sprintf("%s/container/%s/versions?per_page=100", c.packagesBase(), url.PathEscape(pkg.Name))
	for next != "" {
		resp, err := c.transport.Do(ctx, http.MethodGet, next, c.apiHeaders(), nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{Resource: "package " + pkg.Name}
		}
		if !resp.OK() {
			return nil, &Error{Op: "list versions " + pkg.Name, StatusCode: resp.StatusCode}
		}
		var page []packageVersion
		if err := resp.DecodeJSON(&page); err != nil {
			return nil, err
		}
		versions = append(versions, page...)
		next = nextPageLink(resp.Header.Get("Link"))
	}
	return versions, nil
}

// ListTags extracts tag bindings from the version listing; digests come
// with the versions so no per-tag manifest fetch is needed.
func (c *GitHubClient) ListTags(ctx context.Context, pkg *Package) ([]Tag, error) {
	versions, err := c.versions(ctx, pkg)
	if err != nil {
		return nil, err
	}
	var tags []Tag
	for _, v := range versions {
		dgst := digest.Digest(v.Name)
		if dgst.Validate() != nil {
			continue
		}
		for _, name := range v.Metadata.Container.Tags {
			tags = append(tags, Tag{Name: name, Digest: dgst, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt})
		}
	}
	return tags, nil
}

// repoName is the ghcr repository path for a package.
func (c *GitHubClient) repoName(pkg *Package) string {
	return strings.ToLower(c.owner + "/" + pkg.Name)
}

// ghcrAPI returns a v2api bound to ghcr.io with a pull token for the
// repository, exchanging the PAT on first use.
func (c *GitHubClient) ghcrAPI(ctx context.Context, pkg *Package) (*v2api, error) {
	repo := c.repoName(pkg)
	token, ok := c.pullToken[repo]
	if !ok {
		u := fmt.Sprintf("%s/token?service=ghcr.io&scope=repository:%s:pull", ghcrBase, repo)
		h := http.Header{}
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.owner+":"+c.token)))
		resp, err := c.transport.Do(ctx, http.MethodGet, u, h, nil)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &Error{Op: "ghcr token exchange", StatusCode: resp.StatusCode}
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := resp.DecodeJSON(&body); err != nil {
			return nil, err
		}
		token = body.Token
		c.pullToken[repo] = token
	}
	return &v2api{
		transport: c.transport,
		baseURL:   ghcrBase,
		headers: func() http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+token)
			return h
		},
	}, nil
}

// GetManifest fetches manifest content from ghcr.io.
func (c *GitHubClient) GetManifest(ctx context.Context, pkg *Package, reference string) (*Manifest, error) {
	api, err := c.ghcrAPI(ctx, pkg)
	if err != nil {
		return nil, err
	}
	return api.manifest(ctx, c.repoName(pkg), reference)
}

// GetPackageManifests returns one manifest per package version,
// enriching the version timestamps with /v2 content when reachable.
// Untagged versions are exactly the orphan candidates the engine wants.
func (c *GitHubClient) GetPackageManifests(ctx context.Context, pkg *Package) ([]*Manifest, error) {
	versions, err := c.versions(ctx, pkg)
	if err != nil {
		return nil, err
	}
	manifests := make([]*Manifest, 0, len(versions))
	for _, v := range versions {
		dgst := digest.Digest(v.Name)
		if dgst.Validate() != nil {
			continue
		}
		m, err := c.GetManifest(ctx, pkg, dgst.String())
		if err != nil {
			// The version row can outlive the manifest content; keep a
			// bare manifest so the digest still participates in
			// ghost/orphan classification.
			logger.Debug("Manifest content unreachable, using version metadata only",
				"package", pkg.Name, "digest", dgst, "error", err)
			m = &Manifest{Digest: dgst}
		}
		m.CreatedAt = v.CreatedAt
		m.UpdatedAt = v.UpdatedAt
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// versionByDigest finds the package version whose name is the digest.
func (c *GitHubClient) versionByDigest(ctx context.Context, pkg *Package, dgst digest.Digest) (*packageVersion, error) {
	versions, err := c.versions(ctx, pkg)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Name == dgst.String() {
			return &v, nil
		}
	}
	return nil, &NotFoundError{Resource: fmt.Sprintf("version %s of %s", dgst, pkg.Name)}
}

func (c *GitHubClient) deleteVersion(ctx context.Context, pkg *Package, id int64) error {
	u := fmt.Sprintf("%s/container/%s/versions/%d", c.packagesBase(), url.PathEscape(pkg.Name), id)
	resp, err := c.transport.Do(ctx, http.MethodDelete, u, c.apiHeaders(), nil)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Resource: fmt.Sprintf("version %d of %s", id, pkg.Name)}
	case !resp.OK():
		return &Error{Op: fmt.Sprintf("delete version %d of %s", id, pkg.Name), StatusCode: resp.StatusCode}
	}
	return nil
}

// DeleteTag removes the package version the tag points at, which is the
// only deletion GHCR offers. It refuses when the version carries tags
// outside the batch, so a sibling tag is never destroyed as a side
// effect. The version listing backing the check is freshly fetched but
// still best effort.
func (c *GitHubClient) DeleteTag(ctx context.Context, pkg *Package, tag string, batch []string) error {
	versions, err := c.versions(ctx, pkg)
	if err != nil {
		return err
	}
	inBatch := map[string]bool{}
	for _, b := range batch {
		inBatch[b] = true
	}
	for _, v := range versions {
		for _, t := range v.Metadata.Container.Tags {
			if t != tag {
				continue
			}
			for _, other := range v.Metadata.Container.Tags {
				if !inBatch[other] {
					return fmt.Errorf("cannot delete tag %s:%s in isolation: tag %q shares the version and is not being deleted",
						pkg.Name, tag, other)
				}
			}
			return c.deleteVersion(ctx, pkg, v.ID)
		}
	}
	return &NotFoundError{Resource: fmt.Sprintf("%s:%s", pkg.Name, tag)}
}

// DeleteManifest removes the package version for the digest.
func (c *GitHubClient) DeleteManifest(ctx context.Context, pkg *Package, dgst digest.Digest) error {
	v, err := c.versionByDigest(ctx, pkg, dgst)
	if err != nil {
		return err
	}
	return c.deleteVersion(ctx, pkg, v.ID)
}

// GetReferrers uses the referrers API when ghcr serves it, falling back
// to the sha256-<hex> tag scheme cosign and buildkit attestations use.
func (c *GitHubClient) GetReferrers(ctx context.Context, pkg *Package, dgst digest.Digest) ([]Referrer, error) {
	api, err := c.ghcrAPI(ctx, pkg)
	if err != nil {
		return nil, err
	}
	referrers, err := api.referrers(ctx, c.repoName(pkg), dgst)
	if err == nil && len(referrers) > 0 {
		return referrers, nil
	}

	fallbackTag := strings.Replace(dgst.String(), ":", "-", 1)
	m, err := api.manifest(ctx, c.repoName(pkg), fallbackTag)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Referrer, 0, len(m.Children))
	for _, child := range m.Children {
		out = append(out, Referrer{Digest: child.Digest, MediaType: child.MediaType, Size: child.Size})
	}
	if len(out) == 0 {
		// The fallback tag itself is the referrer artifact.
		out = append(out, Referrer{Digest: m.Digest, MediaType: m.MediaType, Size: m.Size})
	}
	return out, nil
}

// Supports reports GHCR capabilities.
func (c *GitHubClient) Supports(feature Capability) bool {
	switch feature {
	case CapMultiArch, CapReferrers, CapAttestation, CapCosign:
		return true
	}
	return false
}

// KnownRegistryURLs lists the hosts auto-detection maps to this adapter.
func (c *GitHubClient) KnownRegistryURLs() []string {
	return []string{"ghcr.io", "containers.pkg.github.com"}
}

// nextPageLink extracts the rel="next" target from a GitHub-style Link
// header.
func nextPageLink(link string) string {
	for _, part := range strings.Split(link, ",") {
		fields := strings.Split(part, ";")
		if len(fields) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(fields[0]), "<>")
		for _, f := range fields[1:] {
			if strings.TrimSpace(f) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}
