package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHubClient(t *testing.T, handler http.Handler) *DockerHubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewDockerHubClient("acme", "user", "pass", NewTransport(TransportConfig{Timeout: 5 * time.Second}))
	c.apiBase = srv.URL
	c.registryBase = srv.URL
	c.authBase = srv.URL
	return c
}

// GetPackageManifests must walk tagged indexes down into their platform
// children, fetching each child manifest exactly once.
func TestDockerHubGetPackageManifestsWalksIndexChildren(t *testing.T) {
	childBody := `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"mediaType":"application/vnd.oci.image.config.v1+json","digest":"sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","size":1},"layers":[]}`
	childDgst := digest.FromString("child")
	indexBody := fmt.Sprintf(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[{"mediaType":"application/vnd.oci.image.manifest.v1+json","digest":%q,"size":1,"platform":{"architecture":"amd64","os":"linux"}}]}`, childDgst)
	indexDgst := digest.FromString("index")
	pushed := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/repositories/acme/app/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"next":"","results":[{"name":"v1.0","digest":%q,"last_updated":%q}]}`,
			indexDgst, pushed.Format(time.RFC3339))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"pull-token"}`)
	})
	mux.HandleFunc("/v2/acme/app/manifests/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/v2/acme/app/manifests/")
		switch digest.Digest(ref) {
		case indexDgst:
			w.Header().Set("Content-Type", "application/vnd.oci.image.index.v1+json")
			w.Header().Set("Docker-Content-Digest", indexDgst.String())
			fmt.Fprint(w, indexBody)
		case childDgst:
			w.Header().Set("Content-Type", "application/vnd.oci.image.manifest.v1+json")
			w.Header().Set("Docker-Content-Digest", childDgst.String())
			fmt.Fprint(w, childBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c := newTestHubClient(t, mux)

	manifests, err := c.GetPackageManifests(context.Background(), &Package{Name: "app", Type: "container"})
	require.NoError(t, err)
	require.Len(t, manifests, 2)

	byDigest := map[digest.Digest]*Manifest{}
	for _, m := range manifests {
		byDigest[m.Digest] = m
	}
	index, ok := byDigest[indexDgst]
	require.True(t, ok)
	assert.True(t, index.IsIndex())
	require.Len(t, index.Children, 1)
	assert.Equal(t, childDgst, index.Children[0].Digest)
	assert.Equal(t, pushed, index.UpdatedAt, "tag push time fills the index timestamp")

	child, ok := byDigest[childDgst]
	require.True(t, ok)
	assert.False(t, child.IsIndex())
}

func TestDockerHubListTagsDigestFallback(t *testing.T) {
	// Older Hub tag rows carry the digest only inside the images array.
	imgDgst := digest.FromString("platform-image")
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/repositories/acme/app/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"next":"","results":[{"name":"v2.0","digest":"","images":[{"digest":%q}]}]}`, imgDgst)
	})
	c := newTestHubClient(t, mux)

	tags, err := c.ListTags(context.Background(), &Package{Name: "app", Type: "container"})
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "v2.0", tags[0].Name)
	assert.Equal(t, imgDgst, tags[0].Digest)
}

func TestDockerHubDeleteManifestRemovesRemainingTags(t *testing.T) {
	target := digest.FromString("doomed")
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/repositories/acme/app/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"next":"","results":[{"name":"v1","digest":%q},{"name":"v1.0","digest":%q},{"name":"v2","digest":%q}]}`,
			target, target, digest.FromString("other"))
	})
	mux.HandleFunc("/v2/repositories/acme/app/tags/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v2/repositories/acme/app/tags/"), "/")
		deleted = append(deleted, name)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestHubClient(t, mux)

	err := c.DeleteManifest(context.Background(), &Package{Name: "app", Type: "container"}, target)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v1.0"}, deleted, "only tags bound to the digest go")
}
