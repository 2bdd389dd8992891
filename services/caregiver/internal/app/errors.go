package app

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned when neither a device token nor a user id is supplied.
	ErrMissingCredential = errors.New("either deviceToken or userId is required")

	// ErrInvalidCredential covers unknown device tokens and malformed identifiers.
	// Callers surface it as an authorization failure.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrMalformedIdentifier wraps ErrInvalidCredential so both match errors.Is.
	ErrMalformedIdentifier = fmt.Errorf("%w: malformed user id", ErrInvalidCredential)

	// ErrIdentityNotFound means the identifier parsed but names no user.
	ErrIdentityNotFound = errors.New("user not found")

	// ErrStorageFailure wraps every store error and timeout.
	ErrStorageFailure = errors.New("storage unavailable")

	ErrSelfLinkRejected      = errors.New("cannot connect to yourself as a caregiver")
	ErrCaregiverNotFound     = errors.New("caregiver not found")
	ErrCaregiverCodeRequired = errors.New("caregiver code required")

	ErrInvalidCoordinates = errors.New("latitude must be within [-90, 90] and longitude within [-180, 180]")
	ErrInvalidBattery     = errors.New("battery must be within [0, 100]")

	ErrAlertNotFound        = errors.New("alert not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrTitleAndMessage      = errors.New("title and message are required")
	ErrInvalidSeverity      = errors.New("severity must be CRITICAL, WARNING or INFO")

	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is the login failure shown to end users. It does not
	// reveal whether the email exists.
	ErrInvalidCredentials       = errors.New("incorrect email address or password")
	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrNameRequired             = errors.New("name required")
	ErrInvalidRole              = errors.New("role must be CAREGIVER or PATIENT")
	ErrEmailAlreadyExists       = errors.New("email already exists")
)

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
