package services

import (
	"errors"
	"fmt"

	"beyondink/internal/validation"
)

// ErrVerdictRejected marks a verdict that came back but was not acceptable.
var ErrVerdictRejected = errors.New("verification verdict rejected")

// VerificationError is a failure of the bot check: a missing token, an
// unreachable verifier or an unacceptable verdict. Field is the form key the
// message is shown against.
type VerificationError struct {
	Field   string
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("verification failed: %s", e.Message)
	}
	return fmt.Sprintf("verification failed: %s: %v", e.Message, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// PersistenceError wraps whatever the persistence collaborator reported. The
// cause is logged but never shown; Message is the generic "try again" text.
type PersistenceError struct {
	Collection string
	Message    string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting to %s failed: %v", e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UploadError is a per-file upload failure. It is logged and the file is
// dropped from the batch result.
type UploadError struct {
	File string
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %q to %s failed: %v", e.File, e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ErrorFields flattens a pipeline failure into the field-to-message map the
// storefront renders inline.
func ErrorFields(err error) map[string]string {
	var (
		fieldErrs  validation.FieldErrors
		verifyErr  *VerificationError
		persistErr *PersistenceError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fieldErrs):
		return fieldErrs
	case errors.As(err, &verifyErr):
		return map[string]string{verifyErr.Field: verifyErr.Message}
	case errors.As(err, &persistErr):
		return map[string]string{"submit": persistErr.Message}
	default:
		return map[string]string{"submit": "Something went wrong. Please try again."}
	}
}
