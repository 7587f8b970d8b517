package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
)

// The path layout in the storage backend, relative to the driver root:
//
//	blobs/<org>/<repo>/<hex digest>
//	manifests/<org>/<repo>/<reference>
//	uploads/<org>/<repo>/<uuid>
//
// Blobs are named by the encoded digest with the algorithm stripped; the
// same content may exist under several (org, repo) partitions
// independently. Manifest references are stored verbatim: a tag name, or
// the full "sha256:<hex>" string when the manifest is keyed by digest.
// Upload sessions are single append-only files named by their session id.
//
// Every component that originates in a request passes through
// safeComponent before it reaches the driver, so hostile names cannot
// address files outside the layout.

const (
	blobsRoot     = "/blobs"
	manifestsRoot = "/manifests"
	uploadsRoot   = "/uploads"
)

// pathFor maps a pathSpec to the driver path it names.
func pathFor(spec pathSpec) (string, error) {
	switch v := spec.(type) {
	case blobDataPathSpec:
		return path.Join(blobsRoot, safeComponent(v.org), safeComponent(v.repo), safeComponent(v.digest.Encoded())), nil
	case manifestDataPathSpec:
		return path.Join(manifestsRoot, safeComponent(v.org), safeComponent(v.repo), referenceComponent(v.reference)), nil
	case manifestTagsPathSpec:
		return path.Join(manifestsRoot, safeComponent(v.org), safeComponent(v.repo)), nil
	case uploadDataPathSpec:
		return path.Join(uploadsRoot, safeComponent(v.org), safeComponent(v.repo), safeComponent(v.id)), nil
	}

	return "", fmt.Errorf("unknown path spec: %#v", spec)
}

// pathSpec is a type marker for the path layouts understood by pathFor.
type pathSpec interface {
	pathSpec()
}

// blobDataPathSpec is the path to a blob's bytes within a repository
// partition.
type blobDataPathSpec struct {
	org    string
	repo   string
	digest digest.Digest
}

func (blobDataPathSpec) pathSpec() {}

// manifestDataPathSpec is the path to the manifest stored under a
// reference, which is either a tag or a digest key.
type manifestDataPathSpec struct {
	org       string
	repo      string
	reference string
}

func (manifestDataPathSpec) pathSpec() {}

// manifestTagsPathSpec is the directory listed for tag enumeration.
type manifestTagsPathSpec struct {
	org  string
	repo string
}

func (manifestTagsPathSpec) pathSpec() {}

// uploadDataPathSpec is an in-progress upload session file.
type uploadDataPathSpec struct {
	org  string
	repo string
	id   string
}

func (uploadDataPathSpec) pathSpec() {}

// sanitize maps every character outside [A-Za-z0-9._/-] to '_'. It mirrors
// the rule applied to authorization patterns, so the repository a user was
// granted is the repository addressed on disk.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-', r == '/':
			return r
		}
		return '_'
	}, s)
}

// safeComponent sanitizes a single path element. The sanitize alphabet
// keeps '.' and '/', so a raw component could still smuggle dot segments
// into the joined path; those are crushed to underscores, and empty
// components are padded so the partition depth stays fixed.
func safeComponent(s string) string {
	s = strings.ReplaceAll(sanitize(s), "/", "_")
	switch s {
	case "":
		return "_"
	case ".":
		return "_"
	case "..":
		return "__"
	}
	return s
}

// referenceComponent sanitizes a manifest reference. Digest keys keep
// their "sha256:" prefix so the stored name matches the string clients
// use on the wire; the colon itself is outside the sanitize alphabet.
func referenceComponent(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "sha256:"); ok {
		return "sha256:" + safeComponent(rest)
	}
	return safeComponent(ref)
}

// trimAlgo strips a leading "sha256:" from a digest string. Manifest
// descriptors carry the algorithm on the wire while blob files are named
// by bare hex.
func trimAlgo(s string) string {
	return strings.TrimPrefix(s, "sha256:")
}
