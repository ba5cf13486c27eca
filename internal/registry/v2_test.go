package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestV2(t *testing.T, handler http.Handler) (*v2api, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &v2api{
		transport: NewTransport(TransportConfig{Timeout: 5 * time.Second}),
		baseURL:   srv.URL,
		headers:   func() http.Header { return http.Header{} },
	}, srv
}

func TestV2CatalogPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/_catalog", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("last") == "" {
			w.Header().Set("Link", `</v2/_catalog?last=beta&n=100>; rel="next"`)
			fmt.Fprint(w, `{"repositories":["alpha","beta"]}`)
			return
		}
		fmt.Fprint(w, `{"repositories":["gamma"]}`)
	})
	api, _ := newTestV2(t, mux)

	names, ok, err := api.catalog(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)
}

func TestV2CatalogDisabled(t *testing.T) {
	api, _ := newTestV2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	names, ok, err := api.catalog(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "catalog denial means cannot enumerate, not failure")
	assert.Empty(t, names)
}

func TestV2Tags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/acme/app/tags/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"acme/app","tags":["v1.0","latest"]}`)
	})
	api, _ := newTestV2(t, mux)

	tags, err := api.tags(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0", "latest"}, tags)
}

func TestV2TagsNotFound(t *testing.T) {
	api, _ := newTestV2(t, http.NotFoundHandler())

	_, err := api.tags(context.Background(), "acme/gone")
	assert.True(t, IsNotFound(err))
}

func TestV2Resolve(t *testing.T) {
	want := digest.FromString("manifest")
	api, _ := newTestV2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Contains(t, r.Header.Get("Accept"), "application/vnd.oci.image.index.v1+json")
		w.Header().Set("Docker-Content-Digest", want.String())
		w.WriteHeader(http.StatusOK)
	}))

	got, err := api.resolve(context.Background(), "acme/app", "v1.0")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestV2ManifestDigestFromHeader(t *testing.T) {
	body := `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"mediaType":"application/vnd.oci.image.config.v1+json","digest":"sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","size":1},"layers":[]}`
	want := digest.FromString("reported-by-registry")
	api, _ := newTestV2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oci.image.manifest.v1+json")
		w.Header().Set("Docker-Content-Digest", want.String())
		fmt.Fprint(w, body)
	}))

	m, err := api.manifest(context.Background(), "acme/app", "v1.0")
	require.NoError(t, err)
	assert.Equal(t, want, m.Digest, "registry-reported digest wins over recomputation")
}

func TestV2DeleteManifest(t *testing.T) {
	dgst := digest.FromString("m")

	t.Run("accepted", func(t *testing.T) {
		api, _ := newTestV2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusAccepted)
		}))
		assert.NoError(t, api.deleteManifest(context.Background(), "acme/app", dgst))
	})

	t.Run("already gone", func(t *testing.T) {
		api, _ := newTestV2(t, http.NotFoundHandler())
		err := api.deleteManifest(context.Background(), "acme/app", dgst)
		assert.True(t, IsNotFound(err))
	})

	t.Run("deletion disabled", func(t *testing.T) {
		api, _ := newTestV2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}))
		err := api.deleteManifest(context.Background(), "acme/app", dgst)
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
	})
}

func TestV2ReferrersAbsentEndpoint(t *testing.T) {
	api, _ := newTestV2(t, http.NotFoundHandler())

	refs, err := api.referrers(context.Background(), "acme/app", digest.FromString("m"))
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestV2Referrers(t *testing.T) {
	subject := digest.FromString("subject")
	sig := digest.FromString("signature")
	api, _ := newTestV2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[{"digest":%q,"mediaType":"application/vnd.oci.image.manifest.v1+json","artifactType":"application/vnd.dev.cosign.simplesigning.v1+json","size":300}]}`, sig)
	}))

	refs, err := api.referrers(context.Background(), "acme/app", subject)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, sig, refs[0].Digest)
	assert.Equal(t, "application/vnd.dev.cosign.simplesigning.v1+json", refs[0].ArtifactType)
}

func TestNextLink(t *testing.T) {
	api := &v2api{baseURL: "https://registry.example.com"}

	resp := &Response{Header: http.Header{"Link": []string{`</v2/_catalog?last=x&n=100>; rel="next"`}}}
	assert.Equal(t, "https://registry.example.com/v2/_catalog?last=x&n=100", api.nextLink(resp))

	resp = &Response{Header: http.Header{"Link": []string{`<https://other.example.com/v2/_catalog?last=x>; rel="next"`}}}
	assert.Equal(t, "https://other.example.com/v2/_catalog?last=x", api.nextLink(resp))

	assert.Empty(t, api.nextLink(&Response{Header: http.Header{}}))
	assert.Empty(t, api.nextLink(&Response{Header: http.Header{"Link": []string{"garbage"}}}))
}
