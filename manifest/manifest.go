package manifest

import (
	"encoding/json"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// MediaTypeDockerManifest is the media type of a Docker image manifest,
	// accepted interchangeably with the OCI image manifest schema.
	MediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"

	// MediaTypeDockerManifestList is the media type of a Docker manifest
	// list, accepted interchangeably with the OCI image index schema.
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// DefaultMediaType is reported for manifests that omit mediaType and for
// stored content whose declared type cannot be recovered.
const DefaultMediaType = v1.MediaTypeImageManifest

// DetectMediaType returns the media type a stored manifest declares,
// falling back to DefaultMediaType when the payload does not declare one
// or cannot be parsed.
func DetectMediaType(payload []byte) string {
	var versioned Versioned
	if err := json.Unmarshal(payload, &versioned); err == nil && versioned.MediaType != "" {
		return versioned.MediaType
	}
	return DefaultMediaType
}
