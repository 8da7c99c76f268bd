// Package apperr defines the error classes shared by the storage, pool and
// ingestion layers. Callers classify with Class.Has and match specific causes
// with errors.Is.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/zeebo/errs"
)

var (
	// Validation covers bad client input; nothing was written when it fires.
	Validation = errs.Class("validation")
	// Overload means no database connection could be leased in time.
	Overload = errs.Class("overloaded")
	// StorageWrite means the bytes never made it to the storage backend.
	StorageWrite = errs.Class("storage write")
	// Persistence covers failed queries, including inserts after a write.
	Persistence = errs.Class("persistence")
	// NotFound is a normal negative lookup result.
	NotFound = errs.Class("not found")
	// Allocation means no free storage filename could be found.
	Allocation = errs.Class("allocation")
)

var (
	ErrNoFile              = errors.New("no file provided")
	ErrEmptyFilename       = errors.New("no file selected")
	ErrInvalidFileType     = errors.New("invalid file type")
	ErrInvalidFilename     = errors.New("bad filename")
	ErrFilenameTooLong     = errors.New("filename too long")
	ErrAllocationExhausted = errors.New("could not allocate a unique storage filename")
	ErrPoolOverloaded      = errors.New("server overloaded, retry later")
	ErrNotFound            = errors.New("not found")
	ErrFileTooLarge        = errors.New("file exceeds upload limit")
	ErrMalformedRequest    = errors.New("malformed request")
)

// Status maps an error to the HTTP status the API layer responds with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Validation.Has(err):
		return http.StatusBadRequest
	case NotFound.Has(err):
		return http.StatusNotFound
	case Overload.Has(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// the client went away; nobody reads this status
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a client safe description of err. Only validation, overload
// and not found causes are echoed; everything else collapses to a fixed
// message per class so paths and driver errors never leak.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case Validation.Has(err):
		return cause(err, ErrMalformedRequest).Error()
	case Overload.Has(err):
		return ErrPoolOverloaded.Error()
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case NotFound.Has(err):
		return "not found"
	case StorageWrite.Has(err):
		return "failed to store file"
	case Persistence.Has(err):
		return "database error"
	case Allocation.Has(err):
		return "failed to allocate storage"
	default:
		return "internal error"
	}
}

var known = []error{
	ErrNoFile, ErrEmptyFilename, ErrInvalidFileType, ErrInvalidFilename, ErrFilenameTooLong,
	ErrAllocationExhausted, ErrPoolOverloaded, ErrNotFound,
	ErrFileTooLarge, ErrMalformedRequest,
}

func cause(err, fallback error) error {
	for _, k := range known {
		if errors.Is(err, k) {
			return k
		}
	}
	return fallback
}
