package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Validation failure classes. Validate wraps each with detail naming the
// offending field, so callers can classify failures with errors.Is.
var (
	// ErrInvalidJSON is returned when the payload is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrInvalidSchema is returned when the payload parses but violates a
	// structural rule, such as an unsupported schemaVersion or an image
	// manifest without layers.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidMediaType is returned for an unsupported top-level
	// mediaType or an empty descriptor mediaType.
	ErrInvalidMediaType = errors.New("invalid media type")

	// ErrMissingRequiredField is returned when schemaVersion is absent or
	// not a number.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidDigest is returned when a descriptor digest is malformed
	// or names an unsupported algorithm.
	ErrInvalidDigest = errors.New("invalid digest")

	// ErrInvalidSize is returned when a descriptor size is not positive.
	ErrInvalidSize = errors.New("invalid size")
)

// digestRegexp bounds what a descriptor digest may look like before the
// algorithm prefix is checked. Encoded portions shorter than 32 hex
// characters are rejected outright.
var digestRegexp = regexp.MustCompile(`^[a-z0-9]+:[a-f0-9]{32,}$`)

// Validate parses payload as an image manifest or image index and enforces
// the structural rules shared by the OCI and Docker v2 schemas. It returns
// the media type the content was validated as; when the payload does not
// declare one, the type is inferred from the document shape and the
// corresponding OCI media type is reported.
func Validate(payload []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	raw, ok := fields["schemaVersion"]
	if !ok {
		return "", fmt.Errorf("%w: schemaVersion", ErrMissingRequiredField)
	}
	var schemaVersion uint64
	if err := json.Unmarshal(raw, &schemaVersion); err != nil {
		return "", fmt.Errorf("%w: schemaVersion", ErrMissingRequiredField)
	}
	if schemaVersion != 2 {
		return "", fmt.Errorf("%w: unsupported schema version %d", ErrInvalidSchema, schemaVersion)
	}

	// Some clients omit mediaType; a non-string value falls through to
	// inference the same way a missing one does.
	var mediaType string
	if raw, ok := fields["mediaType"]; ok {
		_ = json.Unmarshal(raw, &mediaType)
	}

	var validate func([]byte) error
	switch mediaType {
	case v1.MediaTypeImageManifest, MediaTypeDockerManifest:
		validate = validateImageManifest
	case v1.MediaTypeImageIndex, MediaTypeDockerManifestList:
		validate = validateImageIndex
	case "":
		switch {
		case hasField(fields, "config"):
			mediaType, validate = v1.MediaTypeImageManifest, validateImageManifest
		case hasField(fields, "manifests"):
			mediaType, validate = v1.MediaTypeImageIndex, validateImageIndex
		default:
			return "", fmt.Errorf("%w: cannot determine manifest type", ErrInvalidSchema)
		}
	default:
		return "", fmt.Errorf("%w: unsupported media type %q", ErrInvalidMediaType, mediaType)
	}

	if err := validate(payload); err != nil {
		return "", err
	}
	return mediaType, nil
}

func hasField(fields map[string]json.RawMessage, name string) bool {
	_, ok := fields[name]
	return ok
}

func validateImageManifest(payload []byte) error {
	var m struct {
		Config *v1.Descriptor  `json:"config"`
		Layers []v1.Descriptor `json:"layers"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if m.Config == nil {
		return fmt.Errorf("%w: missing config descriptor", ErrInvalidSchema)
	}
	if err := validateDescriptor(*m.Config); err != nil {
		return err
	}

	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: manifest must have at least one layer", ErrInvalidSchema)
	}
	for _, layer := range m.Layers {
		if err := validateDescriptor(layer); err != nil {
			return err
		}
	}
	return nil
}

func validateImageIndex(payload []byte) error {
	var idx struct {
		Manifests []v1.Descriptor `json:"manifests"`
	}
	if err := json.Unmarshal(payload, &idx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if len(idx.Manifests) == 0 {
		return fmt.Errorf("%w: image index must have at least one manifest", ErrInvalidSchema)
	}
	for _, desc := range idx.Manifests {
		if err := validateDescriptor(desc); err != nil {
			return err
		}
	}
	return nil
}

func validateDescriptor(desc v1.Descriptor) error {
	if err := validateDigest(desc.Digest.String()); err != nil {
		return err
	}
	if desc.Size <= 0 {
		return fmt.Errorf("%w: descriptor size must be greater than 0", ErrInvalidSize)
	}
	if desc.MediaType == "" {
		return fmt.Errorf("%w: descriptor media type cannot be empty", ErrInvalidMediaType)
	}
	return nil
}

func validateDigest(dgst string) error {
	if !digestRegexp.MatchString(dgst) {
		return fmt.Errorf("%w: malformed digest %q", ErrInvalidDigest, dgst)
	}
	if !strings.HasPrefix(dgst, "sha256:") && !strings.HasPrefix(dgst, "sha512:") {
		return fmt.Errorf("%w: unsupported algorithm in %q", ErrInvalidDigest, dgst)
	}
	return nil
}
