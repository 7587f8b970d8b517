package storage

import "errors"

// Errors returned by the partition stores. Handlers map these onto the
// OCI error envelope; everything else is an internal failure.
var (
	// ErrBlobUnknown is returned when a blob is not present in the
	// addressed partition.
	ErrBlobUnknown = errors.New("unknown blob")

	// ErrManifestUnknown is returned when no manifest is stored under the
	// addressed reference.
	ErrManifestUnknown = errors.New("unknown manifest")

	// ErrUploadUnknown is returned when an upload session does not exist,
	// either because it was never created or because a concurrent
	// finalization already consumed it.
	ErrUploadUnknown = errors.New("unknown upload")

	// ErrDigestMismatch is returned when content does not verify against
	// the digest the client supplied.
	ErrDigestMismatch = errors.New("content does not match digest")
)
