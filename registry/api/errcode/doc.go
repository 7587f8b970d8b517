// Package errcode defines the error vocabulary of the registry API and
// the envelope in which errors travel over HTTP.
//
// Every condition the API can report is declared once, at init time, as
// a package-level ErrorCode with an ErrorDescriptor carrying its string
// value (for example "BLOB_UNKNOWN"), its default message and the HTTP
// status code it maps to. The numeric ErrorCode is process-local and
// never serialized; the string value is the wire identity.
//
// An ErrorCode is itself an error and can be returned directly when the
// default message suffices. WithDetail and WithMessage derive an Error
// that carries request-specific information, and WithArgs fills printf
// style placeholders in the registered message. Handlers accumulate one
// or more of these into an Errors slice, which marshals to the standard
// envelope:
//
//	{"errors": [{"code": ..., "message": ..., "detail": ...}]}
//
// ServeJSON writes that envelope with the status code of the first
// error, falling back to 500 for unclassified errors.
package errcode
