package driver

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedMethod may be returned in the case where a StorageDriver
// implementation does not support an optional method.
var ErrUnsupportedMethod = errors.New("unsupported method")

// PathNotFoundError is returned when operating on a nonexistent path.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (err PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: path not found: %s", err.DriverName, err.Path)
}

// InvalidPathError is returned when the provided path is malformed.
type InvalidPathError struct {
	Path       string
	DriverName string
}

func (err InvalidPathError) Error() string {
	return fmt.Sprintf("%s: invalid path: %s", err.DriverName, err.Path)
}

// InvalidOffsetError is returned when attempting to read or write from an
// invalid offset.
type InvalidOffsetError struct {
	Path       string
	Offset     int64
	DriverName string
}

func (err InvalidOffsetError) Error() string {
	return fmt.Sprintf("%s: invalid offset: %d for path: %s", err.DriverName, err.Offset, err.Path)
}

// Error is a catch-all error type which captures an error string and
// the driver type on which it occurred.
type Error struct {
	DriverName string
	Detail     error
}

func (err Error) Error() string {
	return fmt.Sprintf("%s: %s", err.DriverName, err.Detail)
}

func (err Error) Unwrap() error {
	return err.Detail
}

// MarshalJSON renders the error with its driver name for API consumers.
func (err Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Driver string `json:"driver"`
		Detail string `json:"detail"`
	}{
		Driver: err.DriverName,
		Detail: err.Detail.Error(),
	})
}

// Errors provides the envelope for multiple errors
// for use within the storagedriver implementations.
type Errors struct {
	DriverName string
	Errs       []error
}

var _ error = Errors{}

func (e Errors) Error() string {
	switch len(e.Errs) {
	case 0:
		return fmt.Sprintf("%s: <nil>", e.DriverName)
	case 1:
		return fmt.Sprintf("%s: %s", e.DriverName, e.Errs[0])
	default:
		msg := "errors:\n"
		for _, err := range e.Errs {
			msg += err.Error() + "\n"
		}
		return fmt.Sprintf("%s: %s", e.DriverName, msg)
	}
}

// MarshalJSON converts the slice of errors into a slice of strings under the
// driver name.
func (e Errors) MarshalJSON() ([]byte, error) {
	details := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		details = append(details, err.Error())
	}
	return json.Marshal(struct {
		Driver  string   `json:"driver"`
		Details []string `json:"details"`
	}{
		Driver:  e.DriverName,
		Details: details,
	})
}
