// Package errors defines the failure kinds reported by the publishing gateway.
//
// Every failure that reaches a client is an *Error carrying one Kind. The
// string form of a Kind is the error code used in API responses.
package errors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	_ Kind = iota

	Unauthenticated
	NotAuthorized
	NotAuthorizedForResource
	MissingRequiredField
	UnsupportedCoreType
	UnrecognisedLicence
	InvalidArchive
	BadlyFormedMetaXML
	UploadError
	MissingFile
	StorageError
	StorageCredentialsExpired
	StorageUnavailable
	RegistryError
	WorkflowTriggerError
	NotFound
	InvalidDataResourceUID
	BadlyFormedCoordinates
	SystemError
)

var codes = map[Kind]string{
	Unauthenticated:           "NOT_AUTHENTICATED",
	NotAuthorized:             "NOT_AUTHORIZED",
	NotAuthorizedForResource:  "NOT_AUTHORIZED_FOR_DATA_RESOURCE",
	MissingRequiredField:      "MISSING_REQUIRED_FIELD",
	UnsupportedCoreType:       "UNSUPPORTED_CORE_TYPE",
	UnrecognisedLicence:       "UNRECOGNISED_LICENCE",
	InvalidArchive:            "INVALID_ARCHIVE",
	BadlyFormedMetaXML:        "BADLY_FORMED_META_XML",
	UploadError:               "FILE_UPLOAD_ERROR",
	MissingFile:               "MISSING_DATA_FILE",
	StorageError:              "S3_ERROR",
	StorageCredentialsExpired: "AWS_CRED_EXPIRED",
	StorageUnavailable:        "AWS_NOT_AVAILABLE",
	RegistryError:             "REGISTRY_ERROR",
	WorkflowTriggerError:      "AIRFLOW_ERROR",
	NotFound:                  "NOT_FOUND",
	InvalidDataResourceUID:    "INVALID_DATA_RESOURCE_UID",
	BadlyFormedCoordinates:    "BADLY_FORMED_COORDINATES",
	SystemError:               "SYSTEM_ERROR",
}

func (k Kind) String() string {
	if code, ok := codes[k]; ok {
		return code
	}
	return codes[SystemError]
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(codes))
	for k := Unauthenticated; k <= SystemError; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Err  error

	// DataResourceUID is set when the failure happened after the registry
	// record was written, i.e. the operation was partially applied.
	DataResourceUID string
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func NewWithError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error found in the chain of err, or
// SystemError when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return SystemError
}

// From returns err as an *Error, classifying unknown errors as SystemError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e
	}
	return NewWithError(SystemError, err)
}
