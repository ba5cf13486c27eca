package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

// v2api wraps the OCI distribution endpoints shared by every adapter
// that talks to a /v2 registry. Authentication is injected per adapter
// via the header callback.
type v2api struct {
	transport *Transport
	baseURL   string
	headers   func() http.Header
}

func (v *v2api) url(format string, args ...any) string {
	return v.baseURL + fmt.Sprintf(format, args...)
}

// ping probes /v2/ to verify connectivity and credentials.
func (v *v2api) ping(ctx context.Context) (int, error) {
	resp, err := v.transport.Do(ctx, http.MethodGet, v.url("/v2/"), v.headers(), nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// catalog lists repository names via /v2/_catalog, following Link
// pagination. Registries that disable the catalog return 404 or 401;
// callers treat that as "cannot enumerate", not as failure.
func (v *v2api) catalog(ctx context.Context) ([]string, bool, error) {
	var names []string
	next := v.url("/v2/_catalog?n=100")
	for next != "" {
		resp, err := v.transport.Do(ctx, http.MethodGet, next, v.headers(), nil)
		if err != nil {
			return nil, false, err
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized {
			return nil, false, nil
		}
		if !resp.OK() {
			return nil, false, &Error{Op: "catalog", StatusCode: resp.StatusCode}
		}
		var page struct {
			Repositories []string `json:"repositories"`
		}
		if err := resp.DecodeJSON(&page); err != nil {
			return nil, false, err
		}
		names = append(names, page.Repositories...)
		next = v.nextLink(resp)
	}
	return names, true, nil
}

// tags lists tag names via /v2/<name>/tags/list with Link pagination.
func (v *v2api) tags(ctx context.Context, name string) ([]string, error) {
	var tags []string
	next := v.url("/v2/%s/tags/list?n=100", name)
	for next != "" {
		resp, err := v.transport.Do(ctx, http.MethodGet, next, v.headers(), nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{Resource: fmt.Sprintf("tags for %s", name)}
		}
		if !resp.OK() {
			return nil, &Error{Op: fmt.Sprintf("list tags %s", name), StatusCode: resp.StatusCode}
		}
		var page struct {
			Tags []string `json:"tags"`
		}
		if err := resp.DecodeJSON(&page); err != nil {
			return nil, err
		}
		tags = append(tags, page.Tags...)
		next = v.nextLink(resp)
	}
	return tags, nil
}

// resolve returns the digest a tag currently points at, using a HEAD
// request so the body is never transferred.
func (v *v2api) resolve(ctx context.Context, name, tag string) (digest.Digest, error) {
	headers := v.headers()
	headers.Set("Accept", manifestAcceptHeader)
	resp, err := v.transport.Do(ctx, http.MethodHead, v.url("/v2/%s/manifests/%s", name, tag), headers, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", &NotFoundError{Resource: fmt.Sprintf("%s:%s", name, tag)}
	}
	if !resp.OK() {
		return "", &Error{Op: fmt.Sprintf("resolve %s:%s", name, tag), StatusCode: resp.StatusCode}
	}
	dgst := digest.Digest(resp.Header.Get("Docker-Content-Digest"))
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("registry returned invalid digest for %s:%s: %w", name, tag, err)
	}
	return dgst, nil
}

// manifest fetches and decodes a manifest by tag or digest reference.
func (v *v2api) manifest(ctx context.Context, name, reference string) (*Manifest, error) {
	headers := v.headers()
	headers.Set("Accept", manifestAcceptHeader)
	resp, err := v.transport.Do(ctx, http.MethodGet, v.url("/v2/%s/manifests/%s", name, reference), headers, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Resource: fmt.Sprintf("%s@%s", name, reference)}
	}
	if !resp.OK() {
		return nil, &Error{Op: fmt.Sprintf("get manifest %s@%s", name, reference), StatusCode: resp.StatusCode}
	}

	dgst := digest.Digest(resp.Header.Get("Docker-Content-Digest"))
	if dgst.Validate() != nil {
		// Header missing: the reference itself may be the digest.
		if d := digest.Digest(reference); d.Validate() == nil {
			dgst = d
		} else {
			dgst = digest.FromBytes(resp.Body)
		}
	}
	return decodeManifest(resp.Body, dgst, resp.Header.Get("Content-Type"))
}

// deleteManifest issues DELETE /v2/<name>/manifests/<digest>. A 404 is
// reported as NotFoundError so callers can treat it as already gone.
func (v *v2api) deleteManifest(ctx context.Context, name string, dgst digest.Digest) error {
	resp, err := v.transport.Do(ctx, http.MethodDelete, v.url("/v2/%s/manifests/%s", name, dgst), v.headers(), nil)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Resource: fmt.Sprintf("%s@%s", name, dgst)}
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return &Error{Op: fmt.Sprintf("delete manifest %s@%s", name, dgst), StatusCode: resp.StatusCode,
			Err: fmt.Errorf("registry has manifest deletion disabled")}
	case !resp.OK():
		return &Error{Op: fmt.Sprintf("delete manifest %s@%s", name, dgst), StatusCode: resp.StatusCode}
	}
	return nil
}

// referrers queries /v2/<name>/referrers/<digest>. Registries without
// the endpoint return 404, which yields an empty list.
func (v *v2api) referrers(ctx context.Context, name string, dgst digest.Digest) ([]Referrer, error) {
	resp, err := v.transport.Do(ctx, http.MethodGet, v.url("/v2/%s/referrers/%s", name, dgst), v.headers(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !resp.OK() {
		return nil, &Error{Op: fmt.Sprintf("referrers %s@%s", name, dgst), StatusCode: resp.StatusCode}
	}

	var index struct {
		Manifests []struct {
			Digest       digest.Digest     `json:"digest"`
			MediaType    string            `json:"mediaType"`
			ArtifactType string            `json:"artifactType"`
			Size         int64             `json:"size"`
			Annotations  map[string]string `json:"annotations"`
		} `json:"manifests"`
	}
	if err := resp.DecodeJSON(&index); err != nil {
		return nil, err
	}

	referrers := make([]Referrer, 0, len(index.Manifests))
	for _, m := range index.Manifests {
		referrers = append(referrers, Referrer{
			Digest:       m.Digest,
			ArtifactType: m.ArtifactType,
			MediaType:    m.MediaType,
			Size:         m.Size,
			Annotations:  m.Annotations,
		})
	}
	return referrers, nil
}

// nextLink extracts the next page URL from an RFC 5988 Link header.
func (v *v2api) nextLink(resp *Response) string {
	// Format: </v2/...?last=x&n=100>; rel="next"
	link := resp.Header.Get("Link")
	if !strings.HasPrefix(link, "<") {
		return ""
	}
	end := strings.Index(link, ">")
	if end < 0 {
		return ""
	}
	u, err := url.Parse(link[1:end])
	if err != nil {
		logger.Debug("Ignoring malformed Link header", "link", link)
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	return v.baseURL + u.String()
}
