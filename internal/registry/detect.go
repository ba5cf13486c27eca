package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

// Backend names a concrete adapter family.
type Backend string

const (
	BackendAuto      Backend = "auto"
	BackendGitHub    Backend = "github"
	BackendGitea     Backend = "gitea"
	BackendDockerHub Backend = "dockerhub"
	BackendOCI       Backend = "oci"
	BackendDaemon    Backend = "daemon"
)

// Credentials carries whatever the selected adapter needs; unused fields
// are ignored.
type Credentials struct {
	Owner    string
	Username string
	Password string
	Token    string
}

// DetectBackend maps a registry URL onto an adapter family. An empty URL
// or a unix/npipe scheme selects the local daemon; known hosts select
// their vendor adapter; anything else falls back to the generic OCI
// adapter.
func DetectBackend(registryURL string) Backend {
	if registryURL == "" {
		return BackendDaemon
	}
	if strings.HasPrefix(registryURL, "unix://") || strings.HasPrefix(registryURL, "npipe://") {
		return BackendDaemon
	}

	host := registryURL
	if u, err := url.Parse(registryURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(strings.TrimSuffix(host, "/"))

	probes := []struct {
		backend Backend
		hosts   []string
	}{
		{BackendGitHub, (&GitHubClient{}).KnownRegistryURLs()},
		{BackendDockerHub, (&DockerHubClient{}).KnownRegistryURLs()},
		{BackendGitea, (&GiteaClient{}).KnownRegistryURLs()},
	}
	for _, p := range probes {
		for _, known := range p.hosts {
			if host == known || strings.HasSuffix(host, "."+known) {
				return p.backend
			}
		}
	}
	return BackendOCI
}

// NewClient constructs the adapter for the chosen backend. BackendAuto
// resolves through DetectBackend first.
func NewClient(backend Backend, registryURL string, creds Credentials, transport *Transport) (Client, error) {
	if backend == "" || backend == BackendAuto {
		backend = DetectBackend(registryURL)
		logger.Debug("Auto-detected backend", "backend", backend, "url", registryURL)
	}

	switch backend {
	case BackendGitHub:
		return NewGitHubClient(creds.Owner, creds.Token, transport), nil
	case BackendGitea:
		if registryURL == "" {
			return nil, fmt.Errorf("gitea backend requires a registry URL")
		}
		return NewGiteaClient(normalizeBaseURL(registryURL), creds.Owner, creds.Username, creds.Token, transport), nil
	case BackendDockerHub:
		return NewDockerHubClient(creds.Owner, creds.Username, creds.Password, transport), nil
	case BackendOCI:
		if registryURL == "" {
			return nil, fmt.Errorf("oci backend requires a registry URL")
		}
		return NewOCIClient(normalizeBaseURL(registryURL), creds.Username, creds.Password, transport), nil
	case BackendDaemon:
		host := ""
		if strings.HasPrefix(registryURL, "unix://") || strings.HasPrefix(registryURL, "npipe://") {
			host = registryURL
		}
		return NewDaemonClient(host)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// normalizeBaseURL ensures a scheme and strips trailing slashes.
func normalizeBaseURL(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimSuffix(raw, "/")
}
