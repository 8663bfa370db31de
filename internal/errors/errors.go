package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

type ErrorType string

func (s ErrorType) String() string {
	return strings.ToLower(string(s))
}

const (
	ErrInternalError   ErrorType = "Internal Error"
	ErrNotFound        ErrorType = "Not Found"
	ErrAlreadyExists   ErrorType = "Resource Already Exists"
	ErrInvalidArgument ErrorType = "Invalid Argument"
	ErrFailedPrecond   ErrorType = "Failed Precondition"
)

type DomainError struct {
	ErrorType  ErrorType
	Entity     string
	Message    string
	WrappedErr error
}

func NewError(errType ErrorType, entity string, msg string) *DomainError {
	return &DomainError{
		Entity:     entity,
		ErrorType:  errType,
		Message:    msg,
		WrappedErr: nil,
	}
}

func NewInternalError(entity string, msg string, err error) *DomainError {
	return &DomainError{
		Entity:     entity,
		ErrorType:  ErrInternalError,
		Message:    msg,
		WrappedErr: err,
	}
}

func NewInvalidArgumentError(entity string, msg string) *DomainError {
	return &DomainError{
		ErrorType:  ErrInvalidArgument,
		Entity:     entity,
		Message:    msg,
		WrappedErr: nil,
	}
}

func NewNotFoundError(entity string, msg string) *DomainError {
	return &DomainError{
		ErrorType:  ErrNotFound,
		Entity:     entity,
		Message:    msg,
		WrappedErr: nil,
	}
}

func NewFailedPreconditionError(entity string, msg string) *DomainError {
	return &DomainError{
		ErrorType:  ErrFailedPrecond,
		Entity:     entity,
		Message:    msg,
		WrappedErr: nil,
	}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%v for entity %v: %v",
		e.ErrorType.String(), e.Entity, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.WrappedErr
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func IsErrorType(err error, errType ErrorType) bool {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.ErrorType == errType
	}
	return false
}
