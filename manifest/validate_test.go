package manifest

import (
	"errors"
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const validImageManifest = `{
	"schemaVersion": 2,
	"mediaType": "application/vnd.oci.image.manifest.v1+json",
	"config": {
		"mediaType": "application/vnd.oci.image.config.v1+json",
		"size": 123,
		"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
	},
	"layers": [
		{
			"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
			"size": 456,
			"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
		}
	]
}`

const validImageIndex = `{
	"schemaVersion": 2,
	"mediaType": "application/vnd.oci.image.index.v1+json",
	"manifests": [
		{
			"mediaType": "application/vnd.oci.image.manifest.v1+json",
			"size": 123,
			"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
		}
	]
}`

func TestValidateImageManifest(t *testing.T) {
	mt, err := Validate([]byte(validImageManifest))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if mt != v1.MediaTypeImageManifest {
		t.Errorf("validated as %q, expected %q", mt, v1.MediaTypeImageManifest)
	}
}

func TestValidateImageIndex(t *testing.T) {
	mt, err := Validate([]byte(validImageIndex))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if mt != v1.MediaTypeImageIndex {
		t.Errorf("validated as %q, expected %q", mt, v1.MediaTypeImageIndex)
	}
}

func TestValidateInferredMediaType(t *testing.T) {
	manifest := `{
		"schemaVersion": 2,
		"config": {
			"mediaType": "application/vnd.oci.image.config.v1+json",
			"size": 123,
			"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
		},
		"layers": [
			{
				"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
				"size": 456,
				"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
			}
		]
	}`

	mt, err := Validate([]byte(manifest))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if mt != v1.MediaTypeImageManifest {
		t.Errorf("inferred %q, expected %q", mt, v1.MediaTypeImageManifest)
	}

	index := `{
		"schemaVersion": 2,
		"manifests": [
			{
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"size": 123,
				"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
			}
		]
	}`

	mt, err = Validate([]byte(index))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if mt != v1.MediaTypeImageIndex {
		t.Errorf("inferred %q, expected %q", mt, v1.MediaTypeImageIndex)
	}
}

func TestValidateDockerMediaTypes(t *testing.T) {
	manifest := `{
		"schemaVersion": 2,
		"mediaType": "application/vnd.docker.distribution.manifest.v2+json",
		"config": {
			"mediaType": "application/vnd.docker.container.image.v1+json",
			"size": 123,
			"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
		},
		"layers": [
			{
				"mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip",
				"size": 456,
				"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
			}
		]
	}`

	mt, err := Validate([]byte(manifest))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if mt != MediaTypeDockerManifest {
		t.Errorf("validated as %q, expected %q", mt, MediaTypeDockerManifest)
	}
}

func TestValidateRejections(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload string
		err     error
	}{
		{
			name:    "not json",
			payload: `not json at all`,
			err:     ErrInvalidJSON,
		},
		{
			name:    "missing schemaVersion",
			payload: `{"mediaType": "application/vnd.oci.image.manifest.v1+json"}`,
			err:     ErrMissingRequiredField,
		},
		{
			name:    "schema version 1",
			payload: `{"schemaVersion": 1}`,
			err:     ErrInvalidSchema,
		},
		{
			name:    "unsupported media type",
			payload: `{"schemaVersion": 2, "mediaType": "application/vnd.example.unknown+json"}`,
			err:     ErrInvalidMediaType,
		},
		{
			name:    "undeterminable type",
			payload: `{"schemaVersion": 2}`,
			err:     ErrInvalidSchema,
		},
		{
			name: "malformed digest",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"config": {
					"mediaType": "application/vnd.oci.image.config.v1+json",
					"size": 123,
					"digest": "invalid-digest"
				},
				"layers": [
					{
						"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
						"size": 456,
						"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
					}
				]
			}`,
			err: ErrInvalidDigest,
		},
		{
			name: "unsupported digest algorithm",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"config": {
					"mediaType": "application/vnd.oci.image.config.v1+json",
					"size": 123,
					"digest": "md5aaaa:1234567890abcdef1234567890abcdef"
				},
				"layers": [
					{
						"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
						"size": 456,
						"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
					}
				]
			}`,
			err: ErrInvalidDigest,
		},
		{
			name: "zero descriptor size",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"config": {
					"mediaType": "application/vnd.oci.image.config.v1+json",
					"size": 0,
					"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
				},
				"layers": [
					{
						"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
						"size": 456,
						"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
					}
				]
			}`,
			err: ErrInvalidSize,
		},
		{
			name: "empty descriptor media type",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"config": {
					"mediaType": "",
					"size": 123,
					"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
				},
				"layers": [
					{
						"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
						"size": 456,
						"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
					}
				]
			}`,
			err: ErrInvalidMediaType,
		},
		{
			name: "missing config",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"layers": [
					{
						"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
						"size": 456,
						"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
					}
				]
			}`,
			err: ErrInvalidSchema,
		},
		{
			name: "empty layers",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"config": {
					"mediaType": "application/vnd.oci.image.config.v1+json",
					"size": 123,
					"digest": "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
				},
				"layers": []
			}`,
			err: ErrInvalidSchema,
		},
		{
			name: "empty index",
			payload: `{
				"schemaVersion": 2,
				"mediaType": "application/vnd.oci.image.index.v1+json",
				"manifests": []
			}`,
			err: ErrInvalidSchema,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Validate([]byte(tc.payload)); !errors.Is(err, tc.err) {
				t.Errorf("Validate returned %v, expected %v", err, tc.err)
			}
		})
	}
}

func TestValidateSha512Digest(t *testing.T) {
	manifest := `{
		"schemaVersion": 2,
		"mediaType": "application/vnd.oci.image.manifest.v1+json",
		"config": {
			"mediaType": "application/vnd.oci.image.config.v1+json",
			"size": 123,
			"digest": "sha512:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
		},
		"layers": [
			{
				"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
				"size": 456,
				"digest": "sha256:abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
			}
		]
	}`

	if _, err := Validate([]byte(manifest)); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
