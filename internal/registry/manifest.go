package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker media types predate the OCI spec but are still what Docker Hub
// and older registries serve.
const (
	dockerManifestMediaType = "application/vnd.docker.distribution.manifest.v2+json"
	dockerListMediaType     = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// manifestAcceptHeader is sent on every manifest fetch so registries
// return indexes instead of flattening them to a platform manifest.
var manifestAcceptHeader = strings.Join([]string{
	ocispec.MediaTypeImageIndex,
	ocispec.MediaTypeImageManifest,
	dockerListMediaType,
	dockerManifestMediaType,
}, ", ")

func isManifestMediaType(ct string) bool {
	switch ct {
	case ocispec.MediaTypeImageIndex, ocispec.MediaTypeImageManifest,
		dockerListMediaType, dockerManifestMediaType:
		return true
	}
	return false
}

func isIndexMediaType(ct string) bool {
	return ct == ocispec.MediaTypeImageIndex || ct == dockerListMediaType
}

// annotation keys carrying creation timestamps, in precedence order.
var createdAnnotations = []string{
	ocispec.AnnotationCreated,
	"org.opencontainers.artifact.created",
}

// decodeManifest parses raw manifest bytes into the engine's Manifest
// type. The digest must come from the registry (Docker-Content-Digest
// header or a digest reference), never be recomputed here, so the value
// the engine deletes by is the value the registry reported.
func decodeManifest(raw []byte, dgst digest.Digest, contentType string) (*Manifest, error) {
	var probe struct {
		MediaType string            `json:"mediaType"`
		Manifests []json.RawMessage `json:"manifests"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", dgst, err)
	}

	mediaType := probe.MediaType
	if mediaType == "" {
		mediaType = contentType
	}

	m := &Manifest{
		Digest:    dgst,
		MediaType: mediaType,
		Size:      int64(len(raw)),
	}

	if isIndexMediaType(mediaType) || len(probe.Manifests) > 0 {
		var index ocispec.Index
		if err := json.Unmarshal(raw, &index); err != nil {
			return nil, fmt.Errorf("decode index %s: %w", dgst, err)
		}
		m.Annotations = index.Annotations
		for _, desc := range index.Manifests {
			m.Children = append(m.Children, ChildDescriptor{
				Digest:    desc.Digest,
				MediaType: desc.MediaType,
				Size:      desc.Size,
				Platform:  desc.Platform,
			})
		}
	} else {
		var img ocispec.Manifest
		if err := json.Unmarshal(raw, &img); err != nil {
			return nil, fmt.Errorf("decode image manifest %s: %w", dgst, err)
		}
		m.Annotations = img.Annotations
		m.Config = &img.Config
		m.Layers = img.Layers
	}

	if created := createdFromAnnotations(m.Annotations); !created.IsZero() {
		m.CreatedAt = created
	}
	return m, nil
}

func createdFromAnnotations(annotations map[string]string) time.Time {
	for _, key := range createdAnnotations {
		if v, ok := annotations[key]; ok {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
