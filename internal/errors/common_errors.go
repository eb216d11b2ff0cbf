package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeCalibration        ErrorType = "CALIBRATION"
	ErrTypeValidation         ErrorType = "VALIDATION"
	ErrTypeReservoirIntegrity ErrorType = "RESERVOIR_INTEGRITY"
	ErrTypeIncompleteGroup    ErrorType = "INCOMPLETE_GROUP"
	ErrTypeParsing            ErrorType = "PARSING"
	ErrTypeStorage            ErrorType = "STORAGE"
	ErrTypeNotFound           ErrorType = "NOT_FOUND"
	ErrTypeConfig             ErrorType = "CONFIG"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Sentinel causes for reservoir faults, matched with errors.Is.
var (
	ErrDuplicateEntry   = errors.New("duplicate reservoir entry")
	ErrGroupOverflow    = errors.New("replicate group exceeds required size")
	ErrIncompleteGroups = errors.New("incomplete replicate groups remain buffered")
	ErrTooFewStandards  = errors.New("too few distinct standards for calibration")
)

// NewCalibrationError creates an error for insufficient or degenerate standards
func NewCalibrationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeCalibration, message, cause)
}

// NewValidationError creates an error for malformed row or file data
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeValidation, message, cause)
}

// NewReservoirIntegrityError creates an error for buffered state that can no longer be trusted
func NewReservoirIntegrityError(message string, cause error) *AppError {
	return NewAppError(ErrTypeReservoirIntegrity, message, cause)
}

// NewIncompleteGroupError creates an error for replicate groups that never completed
func NewIncompleteGroupError(message string) *AppError {
	return NewAppError(ErrTypeIncompleteGroup, message, ErrIncompleteGroups)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// GetType returns the type of the first AppError in err's chain, or "" if none.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err's chain contains an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	return err != nil && GetType(err) == errType
}

// IsTabLocal reports whether err only invalidates the tab being processed.
func IsTabLocal(err error) bool {
	switch GetType(err) {
	case ErrTypeCalibration, ErrTypeValidation:
		return true
	}
	return false
}
