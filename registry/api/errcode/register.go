package errcode

import (
	"fmt"
	"net/http"
	"sync"
)

var (
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
)

var (
	// ErrorCodeUnknown is a generic error used when no situation-specific
	// error code applies.
	ErrorCodeUnknown = register(ErrorDescriptor{
		Value:          "UNKNOWN",
		Message:        "unknown error",
		Description:    `The error does not have an API classification.`,
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// ErrorCodeUnsupported is returned when an operation is not supported.
	ErrorCodeUnsupported = register(ErrorDescriptor{
		Value:          "UNSUPPORTED",
		Message:        "The operation is unsupported.",
		Description:    `The requested operation is not implemented or was invoked with an invalid set of parameters.`,
		HTTPStatusCode: http.StatusMethodNotAllowed,
	})

	// ErrorCodeUnauthorized is returned if a request requires
	// authentication.
	ErrorCodeUnauthorized = register(ErrorDescriptor{
		Value:   "UNAUTHORIZED",
		Message: "authentication required",
		Description: `The request had no valid credentials. A
		Www-Authenticate header indicating how to authenticate accompanies
		the response.`,
		HTTPStatusCode: http.StatusUnauthorized,
	})

	// ErrorCodeDenied is returned if the authenticated user lacks a grant
	// for the attempted action.
	ErrorCodeDenied = register(ErrorDescriptor{
		Value:          "DENIED",
		Message:        "requested access to the resource is denied",
		Description:    `The user has no permission matching the repository, tag and action of the request.`,
		HTTPStatusCode: http.StatusForbidden,
	})

	// ErrorCodeUnavailable reports unavailability of the registry or one of
	// its dependencies.
	ErrorCodeUnavailable = register(ErrorDescriptor{
		Value:          "UNAVAILABLE",
		Message:        "service unavailable",
		Description:    `Returned when the registry cannot currently serve the request.`,
		HTTPStatusCode: http.StatusServiceUnavailable,
	})

	// ErrorCodeDigestInvalid is returned when content does not verify
	// against the digest a client provided.
	ErrorCodeDigestInvalid = register(ErrorDescriptor{
		Value:   "DIGEST_INVALID",
		Message: "provided digest did not match uploaded content",
		Description: `Uploaded content is hashed and compared to the digest
		supplied by the client; on mismatch nothing is stored and this error
		is returned. Also returned when a digest parameter or a digest inside
		a manifest cannot be parsed.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeSizeInvalid is returned when uploaded content does not match
	// the length the client declared.
	ErrorCodeSizeInvalid = register(ErrorDescriptor{
		Value:          "SIZE_INVALID",
		Message:        "provided length did not match content length",
		Description:    `The declared size of an upload differs from the bytes received.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeNameInvalid is returned when a repository name does not
	// parse.
	ErrorCodeNameInvalid = register(ErrorDescriptor{
		Value:          "NAME_INVALID",
		Message:        "invalid repository name",
		Description:    `The repository name in the request path is malformed.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeTagInvalid is returned when a tag reference is malformed.
	ErrorCodeTagInvalid = register(ErrorDescriptor{
		Value:          "TAG_INVALID",
		Message:        "manifest tag did not match URI",
		Description:    `The tag in the request does not name a storable reference.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeNameUnknown is returned when a repository is not known to
	// the registry.
	ErrorCodeNameUnknown = register(ErrorDescriptor{
		Value:          "NAME_UNKNOWN",
		Message:        "repository name not known to registry",
		Description:    `The repository named in the request holds no content.`,
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeManifestUnknown is returned when no manifest is stored under
	// the requested reference.
	ErrorCodeManifestUnknown = register(ErrorDescriptor{
		Value:          "MANIFEST_UNKNOWN",
		Message:        "manifest unknown",
		Description:    `No manifest is stored under the tag or digest named by the request.`,
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeManifestInvalid is returned when an uploaded manifest fails
	// validation.
	ErrorCodeManifestInvalid = register(ErrorDescriptor{
		Value:   "MANIFEST_INVALID",
		Message: "manifest invalid",
		Description: `Manifests are validated on upload. On failure this
		error is returned with the specific validation failure in the
		detail field.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeManifestUnverified is returned when a manifest fails
	// integrity verification.
	ErrorCodeManifestUnverified = register(ErrorDescriptor{
		Value:          "MANIFEST_UNVERIFIED",
		Message:        "manifest failed signature verification",
		Description:    `The manifest payload could not be verified against its claimed digest.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeManifestBlobUnknown is returned when a manifest references a
	// blob the registry does not hold.
	ErrorCodeManifestBlobUnknown = register(ErrorDescriptor{
		Value:          "MANIFEST_BLOB_UNKNOWN",
		Message:        "blob unknown to registry",
		Description:    `A descriptor inside the manifest names a blob that is not stored in the repository.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeBlobUnknown is returned when a blob is not stored in the
	// addressed repository.
	ErrorCodeBlobUnknown = register(ErrorDescriptor{
		Value:   "BLOB_UNKNOWN",
		Message: "blob unknown to registry",
		Description: `No blob with the requested digest exists in the
		repository. Returned for fetches and deletes of absent blobs.`,
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeBlobUploadUnknown is returned when an upload session does
	// not exist.
	ErrorCodeBlobUploadUnknown = register(ErrorDescriptor{
		Value:          "BLOB_UPLOAD_UNKNOWN",
		Message:        "blob upload unknown to registry",
		Description:    `The upload session named by the request was completed, cancelled or never started.`,
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeBlobUploadInvalid is returned when an upload request is
	// malformed.
	ErrorCodeBlobUploadInvalid = register(ErrorDescriptor{
		Value:          "BLOB_UPLOAD_INVALID",
		Message:        "blob upload invalid",
		Description:    `The upload request carried an unusable content type or was otherwise malformed.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodePaginationNumberInvalid is returned when the "n" pagination
	// parameter does not parse as a non-negative integer.
	ErrorCodePaginationNumberInvalid = register(ErrorDescriptor{
		Value:          "PAGINATION_NUMBER_INVALID",
		Message:        "invalid number of results requested",
		Description:    `The "n" query parameter is not an integer or is negative.`,
		HTTPStatusCode: http.StatusBadRequest,
	})
)

var (
	nextCode     = 1000
	registerLock sync.Mutex
)

// register adds the descriptor to the process-wide code tables and
// allocates its numeric code. Codes are fixed at init time; Value
// collisions are programming errors.
func register(descriptor ErrorDescriptor) ErrorCode {
	registerLock.Lock()
	defer registerLock.Unlock()

	descriptor.Code = ErrorCode(nextCode)

	if _, ok := idToDescriptors[descriptor.Value]; ok {
		panic(fmt.Sprintf("ErrorValue %q is already registered", descriptor.Value))
	}
	if _, ok := errorCodeToDescriptors[descriptor.Code]; ok {
		panic(fmt.Sprintf("ErrorCode %v is already registered", descriptor.Code))
	}

	errorCodeToDescriptors[descriptor.Code] = descriptor
	idToDescriptors[descriptor.Value] = descriptor

	nextCode++
	return descriptor.Code
}
