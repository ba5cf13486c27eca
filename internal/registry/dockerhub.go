package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

const (
	hubAPIBase      = "https://hub.docker.com"
	hubRegistryBase = "https://registry-1.docker.io"
	hubAuthBase     = "https://auth.docker.io"
)

// DockerHubClient drives Docker Hub. Repository and tag listings plus
// per-tag deletion use the Hub API; manifest content comes from
// registry-1.docker.io with the usual token exchange. Hub deletes tags
// individually and garbage-collects manifests nothing references, so
// there is no explicit manifest deletion.
type DockerHubClient struct {
	transport *Transport
	namespace string
	username  string
	password  string
	jwt       string
	pullToken map[string]string

	// endpoint bases, overridable in tests
	apiBase      string
	registryBase string
	authBase     string
}

// NewDockerHubClient builds an adapter for the given Hub namespace.
func NewDockerHubClient(namespace, username, password string, transport *Transport) *DockerHubClient {
	if namespace == "" {
		namespace = username
	}
	return &DockerHubClient{
		transport:    transport,
		namespace:    namespace,
		username:     username,
		password:     password,
		pullToken:    map[string]string{},
		apiBase:      hubAPIBase,
		registryBase: hubRegistryBase,
		authBase:     hubAuthBase,
	}
}

func (c *DockerHubClient) hubHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.jwt != "" {
		h.Set("Authorization", "JWT "+c.jwt)
	}
	return h
}

// Authenticate logs into the Hub API and keeps the session token.
func (c *DockerHubClient) Authenticate(ctx context.Context) error {
	if c.jwt != "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	resp, err := c.transport.Do(ctx, http.MethodPost, c.apiBase+"/v2/users/login", c.hubHeaders(), body)
	if err != nil {
		return &AuthError{Backend: "dockerhub", Err: err}
	}
	if !resp.OK() {
		return &AuthError{Backend: "dockerhub", Err: fmt.Errorf("login rejected (status %d)", resp.StatusCode)}
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return &AuthError{Backend: "dockerhub", Err: err}
	}
	c.jwt = out.Token
	return nil
}

// hubPage walks a paginated Hub API listing, invoking fn per result
// payload.
func (c *DockerHubClient) hubPage(ctx context.Context, first string, fn func(raw json.RawMessage) error) error {
	next := first
	for next != "" {
		resp, err := c.transport.Do(ctx, http.MethodGet, next, c.hubHeaders(), nil)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			return &NotFoundError{Resource: next}
		}
		if !resp.OK() {
			return &Error{Op: "hub listing", StatusCode: resp.StatusCode}
		}
		var page struct {
			Next    string            `json:"next"`
			Results []json.RawMessage `json:"results"`
		}
		if err := resp.DecodeJSON(&page); err != nil {
			return err
		}
		for _, raw := range page.Results {
			if err := fn(raw); err != nil {
				return err
			}
		}
		next = page.Next
	}
	return nil
}

// ListPackages enumerates the namespace's repositories.
func (c *DockerHubClient) ListPackages(ctx context.Context) ([]*Package, error) {
	var packages []*Package
	first := fmt.Sprintf("%s/v2/repositories/%s/?page_size=100", c.apiBase, c.namespace)
	err := c.hubPage(ctx, first, func(raw json.RawMessage) error {
		var repo struct {
			Name        string    `json:"name"`
			LastUpdated time.Time `json:"last_updated"`
		}
		if err := json.Unmarshal(raw, &repo); err != nil {
			return err
		}
		packages = append(packages, &Package{
			Name:      repo.Name,
			Type:      "container",
			Owner:     c.namespace,
			UpdatedAt: repo.LastUpdated,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return packages, nil
}

// ListTags reads tag bindings straight from the Hub tag listing, which
// carries digests and push timestamps.
func (c *DockerHubClient) ListTags(ctx context.Context, pkg *Package) ([]Tag, error) {
	var tags []Tag
	first := fmt.Sprintf("%s/v2/repositories/%s/%s/tags?page_size=100", c.apiBase, c.namespace, pkg.Name)
	err := c.hubPage(ctx, first, func(raw json.RawMessage) error {
		var tag struct {
			Name        string    `json:"name"`
			Digest      string    `json:"digest"`
			LastUpdated time.Time `json:"last_updated"`
			LastPushed  time.Time `json:"tag_last_pushed"`
			Images      []struct {
				Digest string `json:"digest"`
			} `json:"images"`
		}
		if err := json.Unmarshal(raw, &tag); err != nil {
			return err
		}
		dgst := digest.Digest(tag.Digest)
		if dgst.Validate() != nil && len(tag.Images) > 0 {
			dgst = digest.Digest(tag.Images[0].Digest)
		}
		if dgst.Validate() != nil {
			logger.Debug("Tag listing carried no digest", "package", pkg.Name, "tag", tag.Name)
			return nil
		}
		tags = append(tags, Tag{Name: tag.Name, Digest: dgst, CreatedAt: tag.LastPushed, UpdatedAt: tag.LastUpdated})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// registryAPI returns a v2api bound to registry-1.docker.io with a pull
// token for the repository.
func (c *DockerHubClient) registryAPI(ctx context.Context, pkg *Package) (*v2api, error) {
	repo := c.namespace + "/" + pkg.Name
	token, ok := c.pullToken[repo]
	if !ok {
		u := fmt.Sprintf("%s/token?service=registry.docker.io&scope=repository:%s:pull", c.authBase, repo)
		h := http.Header{}
		if c.username != "" {
			h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.username+":"+c.password)))
		}
		resp, err := c.transport.Do(ctx, http.MethodGet, u, h, nil)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &Error{Op: "docker token exchange", StatusCode: resp.StatusCode}
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
		baseURL:   c.registryBase,
		headers: func() http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+token)
			return h
		},
	}, nil
}

// GetManifest fetches manifest content from registry-1.docker.io.
func (c *DockerHubClient) GetManifest(ctx context.Context, pkg *Package, reference string) (*Manifest, error) {
	api, err := c.registryAPI(ctx, pkg)
	if err != nil {
		return nil, err
	}
	return api.manifest(ctx, c.namespace+"/"+pkg.Name, reference)
}

// GetPackageManifests walks every tag and the children of every index.
// Hub exposes no listing of untagged manifests; it garbage-collects them
// on its own.
func (c *DockerHubClient) GetPackageManifests(ctx context.Context, pkg *Package) ([]*Manifest, error) {
	tags, err := c.ListTags(ctx, pkg)
	if err != nil {
		return nil, err
	}
	seen := map[digest.Digest]bool{}
	var manifests []*Manifest
	var add func(dgst digest.Digest, updated time.Time) error
	add = func(dgst digest.Digest, updated time.Time) error {
		if seen[dgst] {
			return nil
		}
		seen[dgst] = true
		m, err := c.GetManifest(ctx, pkg, dgst.String())
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = updated
		}
		manifests = append(manifests, m)
		for _, child := range m.Children {
			if err := add(child.Digest, time.Time{}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, tag := range tags {
		if err := add(tag.Digest, tag.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return manifests, nil
}

// DeleteTag removes a single tag through the Hub API; sibling tags are
// untouched, so the batch parameter is not needed here.
func (c *DockerHubClient) DeleteTag(ctx context.Context, pkg *Package, tag string, _ []string) error {
	u := fmt.Sprintf("%s/v2/repositories/%s/%s/tags/%s/", c.apiBase, c.namespace, pkg.Name, tag)
	resp, err := c.transport.Do(ctx, http.MethodDelete, u, c.hubHeaders(), nil)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Resource: fmt.Sprintf("%s:%s", pkg.Name, tag)}
	case !resp.OK():
		return &Error{Op: fmt.Sprintf("delete tag %s:%s", pkg.Name, tag), StatusCode: resp.StatusCode}
	}
	return nil
}

// DeleteManifest deletes any tags still bound to the digest. Hub offers
// no direct manifest deletion and reclaims untagged manifests itself, so
// a digest with no remaining tags counts as already gone.
func (c *DockerHubClient) DeleteManifest(ctx context.Context, pkg *Package, dgst digest.Digest) error {
	tags, err := c.ListTags(ctx, pkg)
	if err != nil {
		return err
	}
	found := false
	for _, t := range tags {
		if t.Digest != dgst {
			continue
		}
		found = true
		if err := c.DeleteTag(ctx, pkg, t.Name, nil); err != nil && !IsNotFound(err) {
			return err
		}
	}
	if !found {
		logger.Debug("Manifest already untagged, Hub will reclaim it", "package", pkg.Name, "digest", dgst)
	}
	return nil
}

// GetReferrers is a no-op: Hub does not serve the referrers API.
func (c *DockerHubClient) GetReferrers(ctx context.Context, pkg *Package, dgst digest.Digest) ([]Referrer, error) {
	return nil, nil
}

// Supports reports Docker Hub capabilities.
func (c *DockerHubClient) Supports(feature Capability) bool {
	return feature == CapMultiArch
}

// KnownRegistryURLs lists hosts auto-detection maps to this adapter.
func (c *DockerHubClient) KnownRegistryURLs() []string {
	return []string{"hub.docker.com", "docker.io", "registry-1.docker.io", "index.docker.io"}
}
