package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBackend(t *testing.T) {
	tests := []struct {
		url  string
		want Backend
	}{
		{"", BackendDaemon},
		{"unix:///var/run/docker.sock", BackendDaemon},
		{"npipe:////./pipe/docker_engine", BackendDaemon},
		{"ghcr.io", BackendGitHub},
		{"https://ghcr.io", BackendGitHub},
		{"https://ghcr.io/", BackendGitHub},
		{"containers.pkg.github.com", BackendGitHub},
		{"docker.io", BackendDockerHub},
		{"https://hub.docker.com", BackendDockerHub},
		{"registry-1.docker.io", BackendDockerHub},
		{"index.docker.io", BackendDockerHub},
		{"gitea.com", BackendGitea},
		{"codeberg.org", BackendGitea},
		{"https://codeberg.org", BackendGitea},
		{"registry.example.com", BackendOCI},
		{"https://registry.example.com:5000", BackendOCI},
		{"localhost:5000", BackendOCI},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBackend(tt.url))
		})
	}
}

func TestNewClientAutoDetection(t *testing.T) {
	transport := NewTransport(TransportConfig{Timeout: 5 * time.Second})

	client, err := NewClient(BackendAuto, "https://ghcr.io", Credentials{Owner: "acme", Token: "t"}, transport)
	require.NoError(t, err)
	assert.IsType(t, &GitHubClient{}, client)

	client, err = NewClient(BackendAuto, "https://registry.example.com", Credentials{}, transport)
	require.NoError(t, err)
	assert.IsType(t, &OCIClient{}, client)
}

func TestNewClientRequiresURL(t *testing.T) {
	transport := NewTransport(TransportConfig{Timeout: 5 * time.Second})

	_, err := NewClient(BackendOCI, "", Credentials{}, transport)
	assert.Error(t, err)

	_, err = NewClient(BackendGitea, "", Credentials{}, transport)
	assert.Error(t, err)
}

func TestNewClientUnknownBackend(t *testing.T) {
	_, err := NewClient(Backend("quay"), "example.com", Credentials{}, nil)
	assert.Error(t, err)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://registry.example.com", normalizeBaseURL("registry.example.com"))
	assert.Equal(t, "https://registry.example.com", normalizeBaseURL("https://registry.example.com/"))
	assert.Equal(t, "http://localhost:5000", normalizeBaseURL("http://localhost:5000"))
}
